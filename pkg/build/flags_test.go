// SPDX-License-Identifier: MIT
package build

import (
	"os"
	"testing"
)

var (
	origName    string
	origTime    string
	origCommit  string
	origVersion string
	origInfo    Info
)

func TestMain(m *testing.M) {
	origName = buildName
	origTime = buildTime
	origCommit = buildCommit
	origVersion = buildVersion
	origInfo = *buildInfo

	exitCode := m.Run()

	buildName = origName
	buildTime = origTime
	buildCommit = origCommit
	buildVersion = origVersion
	*buildInfo = origInfo

	os.Exit(exitCode)
}

func unknownInfo() *Info {
	return &Info{Name: DefaultName, Time: "unknown", Commit: "unknown", Version: "unknown"}
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantErrMsg  string
	}{
		{"Missing BuildName", "", "2025-04-13", "abcdef123", "v1.0.0", "BuildName is required"},
		{"Missing BuildTime", "spectro", "", "abcdef123", "v1.0.0", "BuildTime is required"},
		{"Missing BuildCommit", "spectro", "2025-04-13", "", "v1.0.0", "BuildCommit is required"},
		{"Missing BuildVersion", "spectro", "2025-04-13", "abcdef123", "", "BuildVersion is required"},
		{"Success Case", "spectro", "2025-04-13", "abcdef123", "v1.0.0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buildInfo = unknownInfo()
			buildName = tt.buildName
			buildTime = tt.buildTime
			buildCommit = tt.buildCommit
			buildVersion = tt.buildVer

			err := Initialize()

			if tt.wantErrMsg != "" {
				if err == nil || err.Error() != tt.wantErrMsg {
					t.Fatalf("Initialize() error = %v, want %v", err, tt.wantErrMsg)
				}
				if *Get() != *unknownInfo() {
					t.Errorf("failed Initialize changed the defaults: %+v", Get())
				}
				return
			}
			if err != nil {
				t.Fatalf("Initialize() unexpected error: %v", err)
			}

			want := Info{Name: tt.buildName, Time: tt.buildTime, Commit: tt.buildCommit, Version: tt.buildVer}
			if *Get() != want {
				t.Errorf("Get() = %+v, want %+v", Get(), want)
			}
		})
	}
}

func TestString(t *testing.T) {
	tests := []struct {
		info Info
		want string
	}{
		{
			Info{Name: "spectro", Time: "2025-04-13", Commit: "abcdef1234567", Version: "v1.0.0"},
			"spectro v1.0.0 (commit abcdef1, built 2025-04-13)",
		},
		{*unknownInfo(), "spectro unknown (commit unknown, built unknown)"},
	}
	for _, tt := range tests {
		if got := tt.info.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
