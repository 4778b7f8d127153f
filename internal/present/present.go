// Package present shows the one fatal error that ends a session.
package present

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	"go.uber.org/zap"
)

// Presenter displays a fatal error to the user.
type Presenter interface {
	ShowFatal(message, trace string)
}

// Once wraps p so only the first ShowFatal reaches it.
func Once(p Presenter) *OncePresenter {
	return &OncePresenter{inner: p}
}

type OncePresenter struct {
	inner Presenter
	once  sync.Once
	shown atomic.Bool
}

func (o *OncePresenter) ShowFatal(message, trace string) {
	o.once.Do(func() {
		o.shown.Store(true)
		o.inner.ShowFatal(message, trace)
	})
}

// Shown reports whether a fatal error has been presented.
func (o *OncePresenter) Shown() bool { return o.shown.Load() }

// Log presents fatal errors through the logger.
type Log struct {
	log *zap.Logger
}

func NewLog(log *zap.Logger) *Log { return &Log{log: log} }

func (l *Log) ShowFatal(message, trace string) {
	l.log.Error("致命錯誤", zap.String("message", message), zap.String("trace", trace))
}

// Terminal draws the fatal error full-screen and waits for a key press or
// Wait, whichever comes first. A zero Wait returns right after drawing.
type Terminal struct {
	Wait time.Duration

	newScreen func() (tcell.Screen, error)
	fallback  Presenter
}

func NewTerminal(wait time.Duration, fallback Presenter) *Terminal {
	return &Terminal{Wait: wait, newScreen: tcell.NewScreen, fallback: fallback}
}

// NewTerminalWithScreen uses s instead of opening the real terminal.
func NewTerminalWithScreen(s tcell.Screen, wait time.Duration, fallback Presenter) *Terminal {
	return &Terminal{
		Wait:      wait,
		newScreen: func() (tcell.Screen, error) { return s, nil },
		fallback:  fallback,
	}
}

var (
	titleStyle = tcell.StyleDefault.Foreground(tcell.ColorWhite).Background(tcell.ColorDarkRed).Bold(true)
	textStyle  = tcell.StyleDefault.Foreground(tcell.ColorRed)
	traceStyle = tcell.StyleDefault.Foreground(tcell.ColorGray)
)

func (t *Terminal) ShowFatal(message, trace string) {
	s, err := t.newScreen()
	if err == nil {
		err = s.Init()
	}
	if err != nil {
		// No terminal: the log is all we have.
		if t.fallback != nil {
			t.fallback.ShowFatal(message, trace)
		}
		return
	}
	defer s.Fini()

	w, h := s.Size()
	s.Clear()
	for y, l := range Layout(message, trace, w, h) {
		style := textStyle
		switch {
		case y == 0:
			style = titleStyle
		case l.trace:
			style = traceStyle
		}
		for x, r := range []rune(l.text) {
			s.SetContent(x, y, r, nil, style)
		}
	}
	s.Show()

	if t.Wait <= 0 {
		return
	}
	keys := make(chan struct{})
	go func() {
		defer close(keys)
		for {
			switch s.PollEvent().(type) {
			case *tcell.EventKey, nil:
				return
			case *tcell.EventInterrupt:
				return
			}
		}
	}()
	select {
	case <-keys:
	case <-time.After(t.Wait):
		s.PostEvent(tcell.NewEventInterrupt(nil))
		<-keys
	}
}

// Line is one row of the fatal screen.
type Line struct {
	text  string
	trace bool
}

func (l Line) Text() string { return l.text }

// Layout wraps message and trace into at most h rows of width w. The
// first row is the title.
func Layout(message, trace string, w, h int) []Line {
	if w <= 0 || h <= 0 {
		return nil
	}
	lines := []Line{{text: clip(" FATAL ", w)}}
	for _, para := range strings.Split(message, "\n") {
		for _, l := range wrap(para, w) {
			lines = append(lines, Line{text: l})
		}
	}
	if trace != "" {
		lines = append(lines, Line{})
		for _, para := range strings.Split(strings.TrimRight(trace, "\n"), "\n") {
			for _, l := range wrap(para, w) {
				lines = append(lines, Line{text: l, trace: true})
			}
		}
	}
	if len(lines) > h {
		lines = lines[:h]
	}
	return lines
}

func wrap(s string, w int) []string {
	r := []rune(s)
	if len(r) == 0 {
		return []string{""}
	}
	var out []string
	for len(r) > w {
		out = append(out, string(r[:w]))
		r = r[w:]
	}
	return append(out, string(r))
}

func clip(s string, w int) string {
	if r := []rune(s); len(r) > w {
		return string(r[:w])
	}
	return s
}
