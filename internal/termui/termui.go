// Package termui renders export progress for the one-shot CLI.
package termui

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"golang.org/x/term"

	"github.com/starford/mixport/internal/export"
)

// Presenter draws a progress bar when the output is a terminal and falls back
// to log lines otherwise.
type Presenter struct {
	w      io.Writer
	tty    bool
	bar    progress.Model
	logger *slog.Logger

	lastWidth   int
	lastMessage string
}

// New creates a Presenter writing to w.
func New(w io.Writer, logger *slog.Logger) *Presenter {
	if logger == nil {
		logger = slog.Default()
	}
	bar := progress.New(progress.WithDefaultGradient(), progress.WithoutPercentage())
	bar.Width = 36

	tty := false
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		tty = true
		if cols, _, err := term.GetSize(int(f.Fd())); err == nil && cols > 0 {
			bar.Width = clamp(cols-48, 16, 64)
		}
	}

	return &Presenter{w: w, tty: tty, bar: bar, logger: logger}
}

// Handle renders one run event.
func (p *Presenter) Handle(ev export.Event) {
	switch ev.Type {
	case export.EventProgress:
		if p.tty {
			p.render(ev.Progress, ev.Message)
			return
		}
		if ev.Message != p.lastMessage {
			p.lastMessage = ev.Message
			p.logger.Info("export progress", slog.Float64("progress", ev.Progress), slog.String("message", ev.Message))
		}

	case export.EventStats:
		p.logger.Info("export collected",
			slog.Int("folders", ev.Stats.Folders),
			slog.Int("notes", ev.Stats.Notes),
			slog.Int("images", ev.Stats.Images))

	case export.EventComplete:
		if p.tty {
			p.render(100, "done")
			p.newline()
			fmt.Fprintf(p.w, "Exported %d notes, %d images in %d folders to %s\n",
				ev.Stats.Notes, ev.Stats.Images, ev.Stats.Folders, ev.Location)
			return
		}
		p.logger.Info("export complete", slog.String("location", ev.Location))

	case export.EventError:
		msg := ev.Payload()["error"]
		if p.tty {
			p.newline()
			fmt.Fprintf(p.w, "Export failed: %s\n", msg)
			return
		}
		p.logger.Error("export failed", slog.Any("error", msg))
	}
}

// Close ends a partially drawn line.
func (p *Presenter) Close() {
	if p.tty {
		p.newline()
	}
}

func (p *Presenter) render(pct float64, label string) {
	frac := pct / 100
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	line := fmt.Sprintf("%s %3.0f%% %s", p.bar.ViewAs(frac), frac*100, strings.TrimSpace(label))
	width := len([]rune(line))
	pad := ""
	if p.lastWidth > width {
		pad = strings.Repeat(" ", p.lastWidth-width)
	}
	fmt.Fprintf(p.w, "\r%s%s", line, pad)
	p.lastWidth = width
}

func (p *Presenter) newline() {
	if p.lastWidth > 0 {
		fmt.Fprint(p.w, "\n")
		p.lastWidth = 0
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
