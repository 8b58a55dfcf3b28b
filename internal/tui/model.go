// Package tui provides the live Bubble Tea tracking view.
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/keyflow/keyflow/internal/engine"
	"github.com/keyflow/keyflow/internal/feed"
	"github.com/keyflow/keyflow/internal/model"
)

const tickEvery = 200 * time.Millisecond

// StatsMsg carries a pushed state snapshot into the UI loop.
type StatsMsg model.StatsState

// PressureMsg carries a pressure-warning diagnostic into the UI loop.
type PressureMsg model.MemorySample

type tickMsg time.Time

type keyMap struct {
	Pause    key.Binding
	Mode     key.Binding
	Auto     key.Binding
	Optimize key.Binding
	Reset    key.Binding
	Quit     key.Binding
}

func (k keyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Pause, k.Mode, k.Auto, k.Optimize, k.Reset, k.Quit}
}

func (k keyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{k.ShortHelp()}
}

func defaultKeyMap() keyMap {
	return keyMap{
		Pause:    key.NewBinding(key.WithKeys(" "), key.WithHelp("space", "pause feed")),
		Mode:     key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "pin next mode")),
		Auto:     key.NewBinding(key.WithKeys("a"), key.WithHelp("a", "auto mode")),
		Optimize: key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "optimize memory")),
		Reset:    key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset counters")),
		Quit:     key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#C89A3A"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8C8C8C"))
	valueStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F0F0F0"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF4D4F"))
	footerStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#6E6E6E"))
)

// Model implements the live tracking UI.
type Model struct {
	eng  *engine.Engine
	src  *feed.Source
	keys keyMap
	help help.Model

	width  int
	height int

	paused   bool
	lastTick time.Time
	snapshot model.StatsState

	warn       *model.MemorySample
	warnAt     time.Time
	pinnedNext int
	pinned     bool
}

// pinCycle is the order the mode key walks through.
var pinCycle = []model.ProcessingMode{
	model.ModeNormal,
	model.ModeLite,
	model.ModeCPUIntensive,
	model.ModeAcceleratedSim,
}

// NewModel constructs the live view over a running engine and feed.
func NewModel(eng *engine.Engine, src *feed.Source) *Model {
	return &Model{
		eng:      eng,
		src:      src,
		keys:     defaultKeyMap(),
		help:     help.New(),
		snapshot: eng.Snapshot(),
	}
}

// Init implements tea.Model.
func (m *Model) Init() tea.Cmd {
	m.lastTick = time.Now()
	return tick()
}

func tick() tea.Cmd {
	return tea.Tick(tickEvery, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Update implements tea.Model.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		return m, nil

	case tickMsg:
		now := time.Time(msg)
		elapsed := now.Sub(m.lastTick)
		m.lastTick = now
		if !m.paused && m.src != nil {
			for _, ev := range m.src.Tick(now, elapsed) {
				m.eng.SubmitKeyEvent(ev)
			}
		}
		m.snapshot = m.eng.Snapshot()
		if m.warn != nil && now.Sub(m.warnAt) > 10*time.Second {
			m.warn = nil
		}
		return m, tick()

	case StatsMsg:
		m.snapshot = model.StatsState(msg)
		return m, nil

	case PressureMsg:
		sample := model.MemorySample(msg)
		m.warn = &sample
		m.warnAt = time.Now()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
		case key.Matches(msg, m.keys.Mode):
			next := pinCycle[m.pinnedNext%len(pinCycle)]
			m.pinnedNext++
			m.pinned = true
			m.eng.SetProcessingMode(next.String())
		case key.Matches(msg, m.keys.Auto):
			m.pinned = false
			m.eng.SetProcessingMode("auto")
		case key.Matches(msg, m.keys.Optimize):
			m.eng.RequestImmediateOptimization(2, false)
		case key.Matches(msg, m.keys.Reset):
			m.eng.Reset()
			m.snapshot = m.eng.Snapshot()
		}
		return m, nil
	}
	return m, nil
}

// View implements tea.Model.
func (m *Model) View() string {
	s := m.snapshot
	var b []string

	b = append(b, titleStyle.Render("keyflow")+labelStyle.Render("  live tracking"))
	b = append(b, "")
	b = append(b, m.row("WPM", fmt.Sprintf("%d", s.Result.WPM)))
	b = append(b, m.row("Accuracy", fmt.Sprintf("%d%%", s.Result.Accuracy)))
	b = append(b, m.row("Words", fmt.Sprintf("%d", s.Result.WordCount)))
	b = append(b, m.row("Characters", fmt.Sprintf("%d", s.Result.CharacterCount)))
	b = append(b, m.row("Pages", fmt.Sprintf("%.3f", s.Result.PageCount)))
	b = append(b, m.row("Complexity", fmt.Sprintf("%.1f", s.Result.ComplexityScore)))
	b = append(b, "")
	b = append(b, m.row("Keystrokes", fmt.Sprintf("%d (%d errors)", s.KeyCount, s.ErrorCount)))
	b = append(b, m.row("Typing time", s.TypingTime.Truncate(100*time.Millisecond).String()))
	b = append(b, m.row("Mode", m.modeLabel(s.Mode)))
	b = append(b, m.row("Pressure", s.Pressure.String()))
	b = append(b, m.row("Tier", s.Result.TierUsed.String()))

	if m.warn != nil {
		b = append(b, "")
		b = append(b, warnStyle.Render(fmt.Sprintf(
			"memory pressure warning: %.1f%% used", m.warn.PercentUsed)))
	}
	if m.paused {
		b = append(b, "")
		b = append(b, labelStyle.Render("feed paused"))
	}

	b = append(b, "")
	b = append(b, footerStyle.Render(m.help.View(m.keys)))

	out := ""
	for i, line := range b {
		if i > 0 {
			out += "\n"
		}
		out += line
	}
	return out
}

func (m *Model) row(label, value string) string {
	return labelStyle.Render(padRight(label, 14)) + valueStyle.Render(value)
}

func (m *Model) modeLabel(mode model.ProcessingMode) string {
	if m.pinned {
		return mode.String() + " (pinned)"
	}
	return mode.String() + " (auto)"
}
