package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// NewWatermillLogger adapts a zerolog logger to watermill's LoggerAdapter so
// pub/sub internals log through the same sink as the rest of the process.
func NewWatermillLogger(l zerolog.Logger) watermill.LoggerAdapter {
	return &watermillLogger{l: l}
}

type watermillLogger struct {
	l zerolog.Logger
}

func (w *watermillLogger) Error(msg string, err error, fields watermill.LogFields) {
	w.event(w.l.Error().Err(err), fields).Msg(msg)
}

func (w *watermillLogger) Info(msg string, fields watermill.LogFields) {
	w.event(w.l.Debug(), fields).Msg(msg)
}

func (w *watermillLogger) Debug(msg string, fields watermill.LogFields) {
	w.event(w.l.Debug(), fields).Msg(msg)
}

func (w *watermillLogger) Trace(msg string, fields watermill.LogFields) {
	w.event(w.l.Trace(), fields).Msg(msg)
}

func (w *watermillLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	ctx := w.l.With()
	for k, v := range fields {
		ctx = ctx.Interface(k, v)
	}
	return &watermillLogger{l: ctx.Logger()}
}

func (w *watermillLogger) event(e *zerolog.Event, fields watermill.LogFields) *zerolog.Event {
	for k, v := range fields {
		e = e.Interface(k, v)
	}
	return e
}
