// Package rlog is the structured logging backend for the reactor runtime:
// a small concrete logiface Event implementation plus a line-oriented
// Writer, so the runtime can log through logiface without requiring
// callers to wire up a full third-party sink.
package rlog

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/joeycumines/logiface"
)

type (
	// Event is the concrete logiface.Event used by every Logger in this
	// package.
	Event struct {
		logiface.UnimplementedEvent
		Fields []Field
		Msg    string
		Lvl    logiface.Level
	}

	// Field is a single structured log field.
	Field struct {
		Val any
		Key string
	}

	// Writer renders Event values as a single line of text.
	Writer struct {
		mu  sync.Mutex
		Out io.Writer
	}
)

var (
	// L is the generic logger factory, mirroring logiface.L but bound to
	// this package's Event type.
	L = logiface.LoggerFactory[*Event]{}

	_ logiface.EventFactoryFunc[*Event] = newEvent
	_ logiface.Event                    = (*Event)(nil)
	_ logiface.Writer[*Event]           = (*Writer)(nil)
)

func newEvent(level logiface.Level) *Event {
	return &Event{Lvl: level}
}

// Level implements logiface.Event.
func (e *Event) Level() logiface.Level { return e.Lvl }

// AddField implements logiface.Event.
func (e *Event) AddField(key string, val any) {
	e.Fields = append(e.Fields, Field{Key: key, Val: val})
}

// AddMessage implements the optional logiface.Event method.
func (e *Event) AddMessage(msg string) bool {
	e.Msg = msg
	return true
}

// AddError implements the optional logiface.Event method.
func (e *Event) AddError(err error) bool {
	e.Fields = append(e.Fields, Field{Key: "error", Val: err})
	return true
}

// Write implements logiface.Writer.
func (w *Writer) Write(event *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.Out, "[%s] %s", event.Lvl.String(), event.Msg)
	if err != nil {
		return err
	}
	for _, f := range event.Fields {
		if _, err := fmt.Fprintf(w.Out, " %s=%v", f.Key, f.Val); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintln(w.Out)
	return err
}

// New builds a ready-to-use *logiface.Logger[*Event] writing to out at the
// given minimum level. A nil out defaults to os.Stderr.
func New(level logiface.Level, out io.Writer) *logiface.Logger[*Event] {
	if out == nil {
		out = os.Stderr
	}
	return logiface.New[*Event](
		L.WithEventFactory(L.NewEventFactoryFunc(newEvent)),
		L.WithWriter(&Writer{Out: out}),
		L.WithLevel(level),
	)
}

// Discard is a logger that drops everything; used as the zero-config
// default so the reactor runtime never requires a caller to configure
// logging before spawning reactors.
func Discard() *logiface.Logger[*Event] {
	return logiface.New[*Event](
		L.WithEventFactory(L.NewEventFactoryFunc(newEvent)),
		L.WithLevel(logiface.LevelDisabled),
	)
}
