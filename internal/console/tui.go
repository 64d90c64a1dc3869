package console

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const refreshInterval = 250 * time.Millisecond

type promptMsg struct {
	text string
}

type refreshMsg struct {
	snap Snapshot
}

// TUI is the attended-line console. The dashboard shows the running
// order, live weight and the latest quality scan; prompts appear in
// their own panel and are confirmed with Enter.
type TUI struct {
	program *tea.Program
	acks    chan struct{}
	done    chan struct{}
}

// NewTUI builds the dashboard around a snapshot source
func NewTUI(snapshot SnapshotFunc) *TUI {
	acks := make(chan struct{}, 1)
	t := &TUI{
		acks: acks,
		done: make(chan struct{}),
	}
	t.program = tea.NewProgram(
		newDashboard(snapshot, acks),
		tea.WithAltScreen(),
	)
	return t
}

// Start runs the dashboard in its own goroutine
func (t *TUI) Start() {
	go func() {
		defer close(t.done)
		if _, err := t.program.Run(); err != nil {
			slog.Error("console dashboard failed", "error", err)
		}
	}()
}

// Done is closed once the operator quits the dashboard
func (t *TUI) Done() <-chan struct{} {
	return t.done
}

// Show puts a prompt on the dashboard
func (t *TUI) Show(msg string) {
	t.program.Send(promptMsg{text: msg})
}

// WaitForAck blocks until the operator confirms the current prompt and
// reports whether they did. Timeouts, cancellation and a closed
// dashboard all come back false; callers check ctx to tell shutdown
// apart from a slow operator.
func (t *TUI) WaitForAck(ctx context.Context, timeout time.Duration) bool {
	// A key press racing a timed-out prompt does not count for this one
	select {
	case <-t.acks:
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.done:
		return false
	case <-timer.C:
		slog.Warn("operator acknowledgement timed out", "timeout", timeout)
		return false
	case <-t.acks:
		return true
	}
}

// Close tears the dashboard down
func (t *TUI) Close() error {
	t.program.Quit()
	select {
	case <-t.done:
	case <-time.After(2 * time.Second):
		t.program.Kill()
	}
	return nil
}

// dashboard is the bubbletea model behind the TUI
type dashboard struct {
	snapshot SnapshotFunc
	acks     chan<- struct{}

	snap   Snapshot
	prompt string
	bar    progress.Model
	width  int
	height int
}

func newDashboard(snapshot SnapshotFunc, acks chan<- struct{}) *dashboard {
	bar := progress.New(progress.WithDefaultGradient(), progress.WithWidth(44))
	return &dashboard{snapshot: snapshot, acks: acks, bar: bar}
}

func (d *dashboard) Init() tea.Cmd {
	return d.scheduleRefresh()
}

func (d *dashboard) scheduleRefresh() tea.Cmd {
	snapshot := d.snapshot
	return tea.Tick(refreshInterval, func(time.Time) tea.Msg {
		return refreshMsg{snap: snapshot()}
	})
}

func (d *dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.bar.Width = clampInt(msg.Width-24, 20, 60)
		return d, nil

	case refreshMsg:
		d.snap = msg.snap
		return d, d.scheduleRefresh()

	case promptMsg:
		d.prompt = msg.text
		return d, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return d, tea.Quit
		case "enter", " ":
			if d.prompt != "" {
				d.prompt = ""
				select {
				case d.acks <- struct{}{}:
				default:
				}
			}
			return d, nil
		}
	}

	return d, nil
}

func (d *dashboard) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		MarginBottom(1).
		Render("VESTA CUT CELL")

	sections := []string{
		header,
		d.renderOrderPanel(),
		d.renderScalePanel(),
		d.renderVisionPanel(),
	}
	if prompt := d.renderPromptPanel(); prompt != "" {
		sections = append(sections, prompt)
	}
	footer := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		MarginTop(1).
		Render("enter → confirm prompt    q → quit")
	sections = append(sections, footer)

	return strings.Join(sections, "\n")
}

func (d *dashboard) renderOrderPanel() string {
	order := d.snap.Order
	if order == "" {
		order = "waiting for orders"
	}
	lines := []string{
		fmt.Sprintf("Order: %s", order),
	}
	if d.snap.OrderStatus != "" {
		lines[0] += fmt.Sprintf(" (%s)", d.snap.OrderStatus)
	}
	if d.snap.Ingredient != "" {
		lines = append(lines, fmt.Sprintf("Ingredient: %s · target %.1fg", d.snap.Ingredient, d.snap.TargetG))
		pct := 0.0
		if d.snap.TargetG > 0 {
			pct = d.snap.AccumulatedG / d.snap.TargetG
		}
		if pct > 1 {
			pct = 1
		}
		lines = append(lines, fmt.Sprintf("%s %.1fg", d.bar.ViewAs(pct), d.snap.AccumulatedG))
	}
	lines = append(lines, fmt.Sprintf("Cycles: %d done · %d failed", d.snap.CyclesDone, d.snap.CyclesFailed))
	return panelStyle().Render(strings.Join(lines, "\n"))
}

func (d *dashboard) renderScalePanel() string {
	phase := d.snap.Phase
	if phase == "" {
		phase = "idle"
	}
	weight := lipgloss.NewStyle().
		Bold(true).
		Render(fmt.Sprintf("%8.2f g", d.snap.LiveWeightG))
	return panelStyle().Render(fmt.Sprintf("Scale: %s    Phase: %s", weight, phase))
}

func (d *dashboard) renderVisionPanel() string {
	if d.snap.ScannedAt.IsZero() {
		return panelStyle().Render("Vision: no scans yet")
	}
	labels := "tray empty"
	if len(d.snap.Detections) > 0 {
		labels = strings.Join(d.snap.Detections, ", ")
	}
	age := time.Since(d.snap.ScannedAt).Round(time.Second)
	return panelStyle().Render(fmt.Sprintf("Vision: %s · %s ago", labels, age))
}

func (d *dashboard) renderPromptPanel() string {
	if d.prompt == "" {
		return ""
	}
	body := fmt.Sprintf("%s\n\npress ENTER when done", d.prompt)
	return lipgloss.NewStyle().
		Bold(true).
		Border(lipgloss.DoubleBorder()).
		BorderForeground(lipgloss.Color("#FFB454")).
		Padding(0, 2).
		Render(body)
}

func panelStyle() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1)
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
