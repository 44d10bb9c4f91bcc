// Package progress renders the state of the collection branches on the
// console while a run is in flight.
package progress

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/mattn/go-isatty"
	"github.com/ncolesummers/character-prompt-agent/pkg/domain"
)

// Status is the display state of one branch
type Status string

const (
	StatusWaiting Status = "待機中"
	StatusRunning Status = "実行中"
	StatusWorking Status = "処理中"
	StatusDone    Status = "完了"
	StatusError   Status = "エラー"
	StatusTimeout Status = "タイムアウト"
	StatusSkipped Status = "スキップ"
)

// Icon returns the marker drawn before the status
func (s Status) Icon() string {
	switch s {
	case StatusWaiting:
		return "⏸"
	case StatusRunning:
		return "▶"
	case StatusWorking:
		return "⚙"
	case StatusDone:
		return "✔"
	case StatusError:
		return "✖"
	case StatusTimeout:
		return "⏱"
	case StatusSkipped:
		return "⏭"
	}
	return "?"
}

// BranchState is a snapshot of one row
type BranchState struct {
	Status  Status
	Detail  string
	Started time.Time
	Elapsed time.Duration
}

type fdWriter interface {
	io.Writer
	Fd() uintptr
}

// Display draws a box with one row per branch. On a terminal it redraws in
// place every RefreshInterval; elsewhere it prints one line per transition.
type Display struct {
	mu       sync.Mutex
	out      io.Writer
	isTTY    bool
	width    int
	interval time.Duration
	now      func() time.Time

	name     string
	start    time.Time
	branches map[domain.Branch]*BranchState
	lines    int

	stop    chan struct{}
	done    chan struct{}
	running bool

	styles styles
}

type styles struct {
	box     lipgloss.Style
	title   lipgloss.Style
	label   lipgloss.Style
	detail  lipgloss.Style
	byState map[Status]lipgloss.Style
}

// Option configures a Display
type Option func(*Display)

// WithTTY overrides terminal detection
func WithTTY(tty bool) Option {
	return func(d *Display) { d.isTTY = tty }
}

// WithWidth overrides the detected terminal width
func WithWidth(width int) Option {
	return func(d *Display) { d.width = width }
}

// WithRefreshInterval sets how often a terminal display is redrawn
func WithRefreshInterval(interval time.Duration) Option {
	return func(d *Display) { d.interval = interval }
}

// WithClock replaces time.Now, for tests
func WithClock(now func() time.Time) Option {
	return func(d *Display) { d.now = now }
}

// NewDisplay creates a display writing to out. Terminal mode and width are
// detected when out is a file.
func NewDisplay(out io.Writer, opts ...Option) *Display {
	d := &Display{
		out:      out,
		width:    80,
		interval: 100 * time.Millisecond,
		now:      time.Now,
		branches: make(map[domain.Branch]*BranchState, len(domain.Branches)),
	}
	if f, ok := out.(fdWriter); ok {
		d.isTTY = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		if d.isTTY {
			if w, _, err := term.GetSize(f.Fd()); err == nil && w > 0 {
				d.width = w
			}
		}
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.width > 100 {
		d.width = 100
	}
	for _, b := range domain.Branches {
		d.branches[b] = &BranchState{Status: StatusWaiting}
	}
	d.styles = newStyles(lipgloss.NewRenderer(out), d.width)
	return d
}

func newStyles(r *lipgloss.Renderer, width int) styles {
	return styles{
		box: r.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#2196F3")).
			Padding(0, 1).
			Width(width - 2),
		title:  r.NewStyle().Bold(true),
		label:  r.NewStyle().Width(12),
		detail: r.NewStyle().Foreground(lipgloss.Color("#9E9E9E")),
		byState: map[Status]lipgloss.Style{
			StatusWaiting: r.NewStyle().Foreground(lipgloss.Color("#9E9E9E")),
			StatusRunning: r.NewStyle().Foreground(lipgloss.Color("#2196F3")),
			StatusWorking: r.NewStyle().Foreground(lipgloss.Color("#2196F3")),
			StatusDone:    r.NewStyle().Foreground(lipgloss.Color("#8BC34A")),
			StatusError:   r.NewStyle().Foreground(lipgloss.Color("#e53935")),
			StatusTimeout: r.NewStyle().Foreground(lipgloss.Color("#FFC107")),
			StatusSkipped: r.NewStyle().Foreground(lipgloss.Color("#9E9E9E")),
		},
	}
}

// Begin starts the display for name. On a terminal it launches the redraw loop.
func (d *Display) Begin(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return
	}
	d.name = name
	d.start = d.now()
	d.running = true

	if !d.isTTY {
		fmt.Fprintf(d.out, "[%s] キャラクター情報収集: %s\n", formatElapsed(0), name)
		return
	}
	d.renderLocked()
	d.stop = make(chan struct{})
	d.done = make(chan struct{})
	go d.loop(d.stop, d.done)
}

// End stops the redraw loop and draws the final state once
func (d *Display) End() {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return
	}
	d.running = false
	stop, done := d.stop, d.done
	d.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.isTTY {
		d.renderLocked()
		fmt.Fprintln(d.out)
		return
	}
	fmt.Fprintf(d.out, "[%s] 情報収集終了\n", formatElapsed(d.now().Sub(d.start)))
}

func (d *Display) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			d.mu.Lock()
			d.renderLocked()
			d.mu.Unlock()
		}
	}
}

// Start marks branch as running
func (d *Display) Start(branch domain.Branch) {
	d.update(branch, func(s *BranchState) {
		s.Status = StatusRunning
		s.Started = d.now()
		s.Detail = ""
	})
}

// Progress records an intermediate message
func (d *Display) Progress(branch domain.Branch, message string) {
	d.update(branch, func(s *BranchState) {
		if s.Status == StatusRunning || s.Status == StatusWaiting {
			s.Status = StatusWorking
		}
		s.Detail = message
	})
}

// Complete marks branch finished. A branch completed without being started
// was skipped.
func (d *Display) Complete(branch domain.Branch, summary string) {
	d.update(branch, func(s *BranchState) {
		if s.Started.IsZero() {
			s.Status = StatusSkipped
		} else {
			s.Status = StatusDone
			s.Elapsed = d.now().Sub(s.Started)
		}
		s.Detail = summary
	})
}

// Fail marks branch failed or timed out
func (d *Display) Fail(branch domain.Branch, err error) {
	d.update(branch, func(s *BranchState) {
		s.Status = StatusError
		if errors.Is(err, domain.ErrBranchTimeout) {
			s.Status = StatusTimeout
		}
		if !s.Started.IsZero() {
			s.Elapsed = d.now().Sub(s.Started)
		}
		if err != nil {
			s.Detail = err.Error()
		}
	})
}

// State returns a snapshot of branch's row
func (d *Display) State(branch domain.Branch) BranchState {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s, ok := d.branches[branch]; ok {
		return *s
	}
	return BranchState{}
}

func (d *Display) update(branch domain.Branch, fn func(*BranchState)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.branches[branch]
	if !ok {
		return
	}
	before := s.Status
	fn(s)
	if !d.isTTY && (s.Status != before || s.Status == StatusWorking) {
		fmt.Fprintln(d.out, d.plainLine(branch, s))
	}
}

func (d *Display) plainLine(branch domain.Branch, s *BranchState) string {
	line := fmt.Sprintf("[%s] %s %s %s", formatElapsed(d.now().Sub(d.start)), branch.Label(), s.Status.Icon(), s.Status)
	if s.Detail != "" {
		line += ": " + s.Detail
	}
	return line
}

// Render returns the box as drawn on a terminal
func (d *Display) Render() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.renderBox()
}

func (d *Display) renderBox() string {
	st := d.styles
	var rows []string
	rows = append(rows,
		st.title.Render("キャラクター情報収集: "+d.name),
		"経過時間: "+formatElapsed(d.now().Sub(d.start)),
		"",
	)
	for _, b := range domain.Branches {
		s := d.branches[b]
		status := st.byState[s.Status].Render(s.Status.Icon() + " " + string(s.Status))
		row := st.label.Render(b.Label()) + " " + status
		if s.Elapsed > 0 {
			row += fmt.Sprintf(" (%.1fs)", s.Elapsed.Seconds())
		}
		if s.Detail != "" {
			row += " " + st.detail.Render(truncate(s.Detail, d.width/2))
		}
		rows = append(rows, row)
	}
	return st.box.Render(strings.Join(rows, "\n"))
}

func (d *Display) renderLocked() {
	if d.lines > 0 {
		fmt.Fprintf(d.out, "\033[%dA\033[J", d.lines)
	}
	box := d.renderBox()
	fmt.Fprintln(d.out, box)
	d.lines = strings.Count(box, "\n") + 1
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 0 || len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}

// formatElapsed formats a duration as MM:SS
func formatElapsed(d time.Duration) string {
	total := int(d.Seconds())
	return fmt.Sprintf("%02d:%02d", total/60, total%60)
}
