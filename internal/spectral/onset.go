// SPDX-License-Identifier: MIT
package spectral

import "spectro/internal/frame"

// Onset detection defaults.
const (
	DefaultOnsetThresholdDB = 20.0 // Low band power below this never triggers.
	DefaultOnsetRiseDB      = 6.0  // Required rise over the previous frame.
	DefaultOnsetCooldownMs  = 120  // Minimum spacing between onsets.
)

// OnsetDetector flags kick-like hits: a sudden rise in low-frequency power
// from one frame to the next. It keeps state between calls and is not safe
// for concurrent use.
type OnsetDetector struct {
	ThresholdDB float64
	RiseDB      float64
	CooldownMs  int64

	band      []Band
	lastDB    float64
	lastOnset int64
	primed    bool
	fired     bool
}

// NewOnsetDetector watches the 20-250 Hz range with the default settings.
func NewOnsetDetector() *OnsetDetector {
	return &OnsetDetector{
		ThresholdDB: DefaultOnsetThresholdDB,
		RiseDB:      DefaultOnsetRiseDB,
		CooldownMs:  DefaultOnsetCooldownMs,
		band:        []Band{{Name: "low", LowHz: 20, HighHz: 250}},
	}
}

// Process reports whether f starts an onset.
func (d *OnsetDetector) Process(f frame.Frame) bool {
	db := BandEnergies(f, d.band)[0].DB
	onset := db > d.ThresholdDB &&
		(!d.primed || db-d.lastDB >= d.RiseDB) &&
		(!d.fired || f.Timestamp-d.lastOnset >= d.CooldownMs)

	d.lastDB, d.primed = db, true
	if onset {
		d.lastOnset, d.fired = f.Timestamp, true
	}
	return onset
}

// Reset forgets the previous frame.
func (d *OnsetDetector) Reset() {
	d.primed, d.fired = false, false
	d.lastDB, d.lastOnset = 0, 0
}
