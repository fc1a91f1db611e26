// Package display renders assistant speech and effects on a terminal.
package display

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
	"github.com/koscakluka/ema-relay/core/effects"
	"github.com/muesli/reflow/indent"
	"github.com/muesli/reflow/wordwrap"
)

const defaultWidth = 72

// Console writes wrapped assistant speech and effect notices to w. It serves
// as both the display sink and an effect sink.
type Console struct {
	mu    sync.Mutex
	w     io.Writer
	width int

	speakerStyle lipgloss.Style
	textStyle    lipgloss.Style
	effectStyle  lipgloss.Style
}

type ConsoleOption func(*Console)

func WithWidth(width int) ConsoleOption {
	return func(c *Console) {
		if width > 0 {
			c.width = width
		}
	}
}

func NewConsole(w io.Writer, opts ...ConsoleOption) *Console {
	renderer := lipgloss.NewRenderer(w)
	c := &Console{
		w:            w,
		width:        defaultWidth,
		speakerStyle: renderer.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		textStyle:    renderer.NewStyle().Foreground(lipgloss.Color("252")),
		effectStyle:  renderer.NewStyle().Italic(true).Foreground(lipgloss.Color("214")),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Console) Display(_ context.Context, text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	wrapped := wordwrap.String(text, c.width-2)
	body := indent.String(c.textStyle.Render(wrapped), 2)

	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.w, "%s\n%s\n", c.speakerStyle.Render("assistant"), body)
}

func (c *Console) HandleEffect(_ context.Context, tag effects.Tag) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.w, c.effectStyle.Render(fmt.Sprintf("* effect: %s", tag)))
}
