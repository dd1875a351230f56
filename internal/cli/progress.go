package cli

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/R3E-Network/confidential_tasks/internal/app/domain/task"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"
)

// Printer writes status lines, colored when the output is a terminal.
type Printer struct {
	mu       sync.Mutex
	w        io.Writer
	colorize bool
}

// NewPrinter creates a printer on w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w, colorize: isTerminal(w)}
}

func (p *Printer) line(color, mark, format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.colorize {
		mark = color + mark + ColorReset
	}
	fmt.Fprintf(p.w, "%s %s\n", mark, fmt.Sprintf(format, args...))
}

// Success prints a success line.
func (p *Printer) Success(format string, args ...any) { p.line(ColorGreen, "✓", format, args...) }

// Error prints an error line.
func (p *Printer) Error(format string, args ...any) { p.line(ColorRed, "✗", format, args...) }

// Info prints an informational line.
func (p *Printer) Info(format string, args ...any) { p.line(ColorBlue, "ℹ", format, args...) }

// Progress prints one lifecycle event.
func (p *Printer) Progress(ev task.Progress) {
	color, mark := ColorCyan, "·"
	switch {
	case ev.Stage == task.StageFailed:
		color, mark = ColorRed, "!"
	case ev.Err != "":
		color, mark = ColorYellow, "!"
	case ev.Stage == task.StageDecrypted:
		color = ColorGreen
	}
	msg := fmt.Sprintf("%-10s %s ledger=%s execution=%s", ev.Stage, shortID(ev.TaskID), ev.Ledger, ev.Execution)
	if ev.Tick > 0 {
		msg += fmt.Sprintf(" tick=%d", ev.Tick)
	}
	if ev.Elapsed > 0 {
		msg += " elapsed=" + formatDuration(ev.Elapsed)
	}
	if ev.Err != "" {
		msg += " error=" + ev.Err
	}
	p.line(color, mark, "%s", msg)
}

// Watch prints events until the channel is closed.
func (p *Printer) Watch(events <-chan task.Progress) {
	for ev := range events {
		p.Progress(ev)
	}
}

func shortID(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:8] + "…" + id[len(id)-4:]
}

// isTerminal checks whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}
