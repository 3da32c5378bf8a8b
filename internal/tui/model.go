// Package tui renders the public display in a terminal.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"safeboard/internal/display"
)

type frameMsg display.Frame

type closedMsg struct{}

// Model is the kiosk view. It redraws on every frame the display publishes.
type Model struct {
	frames <-chan display.Frame
	frame  display.Frame
	width  int
	height int
}

// NewModel creates a Model showing initial until the first frame arrives.
func NewModel(frames <-chan display.Frame, initial display.Frame) Model {
	return Model{frames: frames, frame: initial}
}

func (m Model) Init() tea.Cmd {
	return waitForFrame(m.frames)
}

func waitForFrame(ch <-chan display.Frame) tea.Cmd {
	return func() tea.Msg {
		f, ok := <-ch
		if !ok {
			return closedMsg{}
		}
		return frameMsg(f)
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.frame = display.Frame(msg)
		return m, waitForFrame(m.frames)
	case closedMsg:
		return m, tea.Quit
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	}
	return m, nil
}

func (m Model) View() string {
	f := m.frame
	var body string
	if !f.Available {
		lines := []string{StyleTitle.Render("Konfiguration wird geladen…")}
		if f.Error != "" {
			lines = append(lines, StyleStatusBad.Render(f.Error))
		}
		body = StyleCard.Render(lipgloss.JoinVertical(lipgloss.Center, lines...))
	} else {
		days := StyleDays.Render(bigNumber(f.Elapsed.Days))
		lines := []string{
			StyleTitle.Render("Tage ohne Arbeitsunfall"),
			days,
			fmt.Sprintf("%02d:%02d:%02d", f.Elapsed.Hours, f.Elapsed.Minutes, f.Elapsed.Seconds),
			"",
			fmt.Sprintf("Rekord: %d %s", f.RecordDays, dayWord(f.RecordDays)),
		}
		if f.Error != "" {
			lines = append(lines, StyleStatusWarn.Render(f.Error))
		}
		body = StyleCard.Render(lipgloss.JoinVertical(lipgloss.Center, lines...))
	}

	footer := lipgloss.JoinHorizontal(lipgloss.Top,
		StyleMuted.Render(f.Now.Format("02.01.2006 15:04:05")),
		"  ",
		timeIndicator(f),
	)
	view := lipgloss.JoinVertical(lipgloss.Center, body, footer)
	if m.width > 0 && m.height > 0 {
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, view)
	}
	return view
}

func timeIndicator(f display.Frame) string {
	switch {
	case !f.Time.Enabled:
		return StyleMuted.Render("● Lokale Zeit")
	case f.Time.Online:
		return StyleStatusGood.Render("● Online")
	case f.Time.Error != "":
		return StyleStatusBad.Render("● Offline: " + f.Time.Error)
	default:
		return StyleStatusBad.Render("● Offline")
	}
}

func dayWord(n int) string {
	if n == 1 {
		return "Tag"
	}
	return "Tage"
}

var digits = [10][3]string{
	{"█▀█", "█ █", "▀▀▀"},
	{" ▀█", "  █", "  ▀"},
	{"▀▀█", "█▀▀", "▀▀▀"},
	{"▀▀█", " ▀█", "▀▀▀"},
	{"█ █", "▀▀█", "  ▀"},
	{"█▀▀", "▀▀█", "▀▀▀"},
	{"█▀▀", "█▀█", "▀▀▀"},
	{"▀▀█", "  █", "  ▀"},
	{"█▀█", "█▀█", "▀▀▀"},
	{"█▀█", "▀▀█", "▀▀▀"},
}

// bigNumber renders n three rows tall.
func bigNumber(n int) string {
	s := fmt.Sprint(n)
	rows := make([]string, 3)
	for i, r := range s {
		d := digits[r-'0']
		for row := range rows {
			if i > 0 {
				rows[row] += " "
			}
			rows[row] += d[row]
		}
	}
	return strings.Join(rows, "\n")
}

// Run shows the display until the user quits or ctx is done.
func Run(ctx context.Context, b *display.Board) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(NewModel(b.Subscribe(ctx), b.Compute()), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("running display: %w", err)
	}
	return nil
}
