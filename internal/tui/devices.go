// SPDX-License-Identifier: MIT
package tui

import (
	"fmt"
	"slices"
	"strings"

	"spectro/internal/audio"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// CommonSampleRates are offered on the configuration screen in addition to
// the device default.
var CommonSampleRates = []int{16000, 44100, 48000, 88200, 96000}

// ScreenType defines which screen is currently active.
type ScreenType int

const (
	ListScreen ScreenType = iota
	ConfigScreen
)

// Selection is the outcome of the device picker.
type Selection struct {
	DeviceID   int
	Name       string
	SampleRate int
	Channels   int
	Chosen     bool // False when the user quit without choosing.
}

var pickerKeys = struct {
	Quit, Up, Down, Enter, Back key.Binding
}{
	Quit:  key.NewBinding(key.WithKeys("q", "ctrl+c")),
	Up:    key.NewBinding(key.WithKeys("up", "k")),
	Down:  key.NewBinding(key.WithKeys("down", "j")),
	Enter: key.NewBinding(key.WithKeys("enter")),
	Back:  key.NewBinding(key.WithKeys("esc")),
}

// DeviceListModel lists input devices and lets the user pick one and a
// sample rate.
type DeviceListModel struct {
	fetch         func() ([]audio.Device, error)
	devices       []audio.Device
	selectedIndex int
	viewport      viewport.Model
	ready         bool
	err           error
	activeScreen  ScreenType

	sampleRates     []int
	sampleRateIndex int
	selection       Selection
}

type devicesMsg struct {
	devices []audio.Device
}

type errMsg struct {
	err error
}

// NewDeviceListModel returns a picker reading devices from fetch, or from
// PortAudio when fetch is nil. Output-only devices are not listed.
func NewDeviceListModel(fetch func() ([]audio.Device, error)) DeviceListModel {
	if fetch == nil {
		fetch = audio.HostDevices
	}
	return DeviceListModel{fetch: fetch, activeScreen: ListScreen}
}

// Init implements tea.Model.
func (m DeviceListModel) Init() tea.Cmd {
	fetch := m.fetch
	return func() tea.Msg {
		devices, err := fetch()
		if err != nil {
			return errMsg{err}
		}
		inputs := devices[:0:0]
		for _, d := range devices {
			if d.MaxInputChannels > 0 {
				inputs = append(inputs, d)
			}
		}
		return devicesMsg{inputs}
	}
}

// Selection returns what the user chose.
func (m DeviceListModel) Selection() Selection { return m.selection }

// Update implements tea.Model.
func (m DeviceListModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		if !m.ready {
			m.viewport = viewport.New(msg.Width, msg.Height-4)
			m.viewport.Style = lipgloss.NewStyle()
			m.ready = true
		} else {
			m.viewport.Width = msg.Width
			m.viewport.Height = msg.Height - 4
		}
		m.refresh()

	case devicesMsg:
		m.devices = msg.devices
		m.refresh()

	case errMsg:
		m.err = msg.err

	case tea.KeyMsg:
		if key.Matches(msg, pickerKeys.Quit) {
			return m, tea.Quit
		}
		if m.activeScreen == ListScreen {
			switch {
			case key.Matches(msg, pickerKeys.Up):
				if m.selectedIndex > 0 {
					m.selectedIndex--
				}
			case key.Matches(msg, pickerKeys.Down):
				if m.selectedIndex < len(m.devices)-1 {
					m.selectedIndex++
				}
			case key.Matches(msg, pickerKeys.Enter):
				if len(m.devices) > 0 {
					m.openConfig()
				}
			}
		} else {
			switch {
			case key.Matches(msg, pickerKeys.Back):
				m.activeScreen = ListScreen
			case key.Matches(msg, pickerKeys.Up):
				if m.sampleRateIndex > 0 {
					m.sampleRateIndex--
				}
			case key.Matches(msg, pickerKeys.Down):
				if m.sampleRateIndex < len(m.sampleRates)-1 {
					m.sampleRateIndex++
				}
			case key.Matches(msg, pickerKeys.Enter):
				d := m.devices[m.selectedIndex]
				m.selection = Selection{
					DeviceID:   d.ID,
					Name:       d.Name,
					SampleRate: m.sampleRates[m.sampleRateIndex],
					Channels:   min(d.MaxInputChannels, 2),
					Chosen:     true,
				}
				return m, tea.Quit
			}
		}
		m.refresh()
	}

	m.viewport, cmd = m.viewport.Update(msg)
	return m, cmd
}

// openConfig switches to the sample rate screen with the device default
// preselected.
func (m *DeviceListModel) openConfig() {
	m.activeScreen = ConfigScreen
	def := int(m.devices[m.selectedIndex].DefaultSampleRate)
	m.sampleRates = slices.Clone(CommonSampleRates)
	if def > 0 && !slices.Contains(m.sampleRates, def) {
		m.sampleRates = append(m.sampleRates, def)
		slices.Sort(m.sampleRates)
	}
	m.sampleRateIndex = max(0, slices.Index(m.sampleRates, def))
}

func (m *DeviceListModel) refresh() {
	if !m.ready {
		return
	}
	if m.activeScreen == ListScreen {
		m.viewport.SetContent(m.renderDevices())
	} else {
		m.viewport.SetContent(m.renderDeviceConfig())
	}
}

// View implements tea.Model.
func (m DeviceListModel) View() string {
	if !m.ready {
		return "Initializing..."
	}
	if m.err != nil {
		return fmt.Sprintf("Error: %v\n\nPress q to exit.", m.err)
	}

	var title, help string
	if m.activeScreen == ListScreen {
		title = titleStyle.Render("Input Devices")
		help = infoStyle.Render("↑/↓: Navigate • Enter: Configure • q: Quit")
	} else {
		title = titleStyle.Render("Device Configuration")
		help = infoStyle.Render("↑/↓: Sample rate • Enter: Use device • Esc: Back • q: Quit")
	}
	return fmt.Sprintf("%s\n\n%s\n\n%s", title, m.viewport.View(), help)
}

func (m DeviceListModel) renderDevices() string {
	if len(m.devices) == 0 {
		return "No input devices found."
	}

	var sb strings.Builder
	for i, d := range m.devices {
		info := fmt.Sprintf("[%d] %s (%s)\n", d.ID, d.Name, d.Kind())
		info += fmt.Sprintf("    Input channels: %d, default sample rate: %.0f Hz\n",
			d.MaxInputChannels, d.DefaultSampleRate)
		info += fmt.Sprintf("    Latency: %s low / %s high\n", d.LowInputLatency, d.HighInputLatency)
		if i == m.selectedIndex {
			info = highlightStyle.Render(info)
		}
		sb.WriteString(info)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (m DeviceListModel) renderDeviceConfig() string {
	var sb strings.Builder
	d := m.devices[m.selectedIndex]
	fmt.Fprintf(&sb, "Configure Device: %s\n\nSample Rate:\n", d.Name)
	for i, rate := range m.sampleRates {
		marker := " "
		if i == m.sampleRateIndex {
			marker = "▶"
		}
		line := fmt.Sprintf("  %s %d Hz\n", marker, rate)
		if i == m.sampleRateIndex {
			line = highlightStyle.Render(line)
		}
		sb.WriteString(line)
	}
	return sb.String()
}

// PickDevice runs the picker full screen and returns the user's choice.
func PickDevice() (Selection, error) {
	p := tea.NewProgram(NewDeviceListModel(nil), tea.WithAltScreen())
	final, err := p.Run()
	if err != nil {
		return Selection{}, err
	}
	return final.(DeviceListModel).Selection(), nil
}
