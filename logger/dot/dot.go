// Package dot provides a slog.Handler that renders stamp's status records as short coloured console lines.
package dot

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/k1LoW/errors"
	"github.com/mattn/go-colorable"
)

var (
	yellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	cyan   = color.New(color.FgCyan).SprintFunc()
	gray   = color.New(color.FgHiBlack).SprintFunc()
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
)

var _ slog.Handler = (*dotHandler)(nil)

type dotHandler struct {
	handler slog.Handler
	*state
}

// state is shared between a handler and the handlers derived from it with WithAttrs or WithGroup.
type state struct {
	mu      sync.Mutex
	spinner *spinner.Spinner
	out     io.Writer
	// prefix is the unfinished line, redrawn after the spinner is hidden.
	prefix []byte
}

// New returns a handler writing to w. A nil w means a colour-capable stdout.
func New(h slog.Handler, w io.Writer) (_ *dotHandler, err error) {
	defer func() {
		err = errors.WithStack(err)
	}()

	if w == nil {
		w = colorable.NewColorableStdout()
	}
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(w))
	if err := s.Color("yellow"); err != nil {
		return nil, err
	}
	s.Start()
	s.Disable()
	return &dotHandler{
		handler: h,
		state: &state{
			spinner: s,
			out:     w,
		},
	}, nil
}

func (h *dotHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.handler.Enabled(ctx, level)
}

func (h *dotHandler) Handle(ctx context.Context, r slog.Record) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()
	h.mu.Lock()
	defer h.mu.Unlock()

	if strings.HasPrefix(r.Message, "retrying") {
		if !h.spinner.Enabled() {
			h.spinner.Enable()
		}
		return nil
	}
	if h.spinner.Enabled() {
		h.spinner.Disable()
		_, _ = h.out.Write(h.prefix)
	}
	switch {
	case r.Message == "processing":
		return h.write(fmt.Sprintf("%s %s + %s ", yellow("•"), attr(r, "base"), attr(r, "logo")))
	case r.Message == "saved":
		return h.endLine(fmt.Sprintf("%s %s\n", green("saved"), attr(r, "output")))
	case r.Message == "unchanged":
		return h.endLine(fmt.Sprintf("%s %s\n", cyan("unchanged"), attr(r, "output")))
	case r.Message == "watching":
		return h.endLine(fmt.Sprintf("%s\n", gray("watching for changes...")))
	case strings.HasPrefix(r.Message, "failed to"):
		return h.endLine(fmt.Sprintf("%s %s\n", red("failed"), attr(r, "error")))
	}
	return nil
}

func (h *dotHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &dotHandler{handler: h.handler.WithAttrs(attrs), state: h.state}
}

func (h *dotHandler) WithGroup(name string) slog.Handler {
	return &dotHandler{handler: h.handler.WithGroup(name), state: h.state}
}

// Stop stops the spinner goroutine.
func (h *dotHandler) Stop() {
	h.spinner.Stop()
}

func (h *dotHandler) write(s string) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()

	_, err = io.WriteString(h.out, s)
	if err != nil {
		return err
	}
	h.prefix = append(h.prefix, s...)
	return nil
}

func (h *dotHandler) endLine(s string) (err error) {
	defer func() {
		err = errors.WithStack(err)
	}()

	_, err = io.WriteString(h.out, s)
	h.prefix = h.prefix[:0]
	return err
}

func attr(r slog.Record, key string) string {
	var v string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == key {
			v = a.Value.String()
			return false
		}
		return true
	})
	return v
}
