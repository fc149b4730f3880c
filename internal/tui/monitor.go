// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"strings"

	"spectro/internal/frame"
	"spectro/internal/spectral"

	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// DefaultBarWidth is the bar length before the first window size message.
const DefaultBarWidth = 40

// hitFrames is how many frames the onset marker stays lit.
const hitFrames = 4

// MonitorOptions configures the live monitor.
type MonitorOptions struct {
	Title string
	// Stats, when set, is polled on every frame for the store status line.
	Stats func() frame.MemoryStats
	// Recording is shown in the header when non-empty.
	Recording string
}

type frameMsg frame.Frame

type framesClosedMsg struct{}

var monitorKeys = struct {
	Quit, Pause key.Binding
}{
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Pause: key.NewBinding(key.WithKeys(" ", "p")),
}

// MonitorModel draws one bar per frequency band of the newest frame. It
// only reads frames.
type MonitorModel struct {
	frames   <-chan frame.Frame
	opts     MonitorOptions
	bands    []spectral.Band
	levels   []spectral.BandLevel
	onsets   *spectral.OnsetDetector
	hit      int // frames left to show the onset marker
	hits     int
	last     frame.Frame
	count    int
	stats    frame.MemoryStats
	width    int
	paused   bool
	finished bool
}

// NewMonitorModel returns a monitor reading from frames until it is
// closed.
func NewMonitorModel(frames <-chan frame.Frame, opts MonitorOptions) MonitorModel {
	if opts.Title == "" {
		opts.Title = "Live Spectrum"
	}
	return MonitorModel{
		frames: frames,
		opts:   opts,
		onsets: spectral.NewOnsetDetector(),
		width:  DefaultBarWidth,
	}
}

func waitForFrame(frames <-chan frame.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-frames
		if !ok {
			return framesClosedMsg{}
		}
		return frameMsg(f)
	}
}

// Init implements tea.Model.
func (m MonitorModel) Init() tea.Cmd {
	return waitForFrame(m.frames)
}

// Frames returns the number of frames received.
func (m MonitorModel) Frames() int { return m.count }

// Onsets returns the number of low-frequency hits seen.
func (m MonitorModel) Onsets() int { return m.hits }

// Update implements tea.Model.
func (m MonitorModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(10, msg.Width-labelStyle.GetWidth()-12)

	case frameMsg:
		f := frame.Frame(msg)
		m.count++
		if !m.paused {
			if m.bands == nil || f.SampleRate != m.last.SampleRate {
				m.bands = spectral.DefaultBands(f.SampleRate)
			}
			m.last = f
			m.levels = spectral.BandEnergies(f, m.bands)
			if m.hit > 0 {
				m.hit--
			}
			if m.onsets.Process(f) {
				m.hit = hitFrames
				m.hits++
			}
		}
		if m.opts.Stats != nil {
			m.stats = m.opts.Stats()
		}
		return m, waitForFrame(m.frames)

	case framesClosedMsg:
		m.finished = true

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, monitorKeys.Quit):
			return m, tea.Quit
		case key.Matches(msg, monitorKeys.Pause):
			m.paused = !m.paused
		}
	}
	return m, nil
}

// View implements tea.Model.
func (m MonitorModel) View() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(m.opts.Title))
	if m.opts.Recording != "" {
		sb.WriteString(" ")
		sb.WriteString(warnStyle.Render("● REC " + m.opts.Recording))
	}
	if m.hit > 0 {
		sb.WriteString(" ")
		sb.WriteString(highlightStyle.Render("◆ hit"))
	}
	sb.WriteString("\n\n")

	if len(m.levels) == 0 {
		sb.WriteString(dimStyle.Render("Waiting for audio..."))
		sb.WriteString("\n")
	}
	for _, l := range m.levels {
		filled := int(l.Level*float64(m.width) + 0.5)
		bar := barStyle(l.Level).Render(strings.Repeat("█", filled)) +
			dimStyle.Render(strings.Repeat("░", m.width-filled))
		sb.WriteString(lipgloss.JoinHorizontal(lipgloss.Top,
			labelStyle.Render(l.Name), bar, fmt.Sprintf(" %6.1f dB", l.DB)))
		sb.WriteString("\n")
	}

	sb.WriteString("\n")
	status := fmt.Sprintf("frames %d • t=%.1fs • %d Hz • fft %d",
		m.count, float64(m.last.Timestamp)/1000, m.last.SampleRate, m.last.FFTSize)
	if m.opts.Stats != nil {
		status += fmt.Sprintf(" • store %d frames %.0f%%", m.stats.TotalFrames, m.stats.UsageRatio()*100)
	}
	sb.WriteString(dimStyle.Render(status))
	sb.WriteString("\n")

	switch {
	case m.finished:
		sb.WriteString(warnStyle.Render("Capture stopped."))
		sb.WriteString(" ")
	case m.paused:
		sb.WriteString(warnStyle.Render("Paused."))
		sb.WriteString(" ")
	}
	sb.WriteString(infoStyle.Render("space: Pause • q: Quit"))
	return sb.String()
}

// RunMonitor runs the monitor full screen until the user quits.
func RunMonitor(frames <-chan frame.Frame, opts MonitorOptions) error {
	p := tea.NewProgram(NewMonitorModel(frames, opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
