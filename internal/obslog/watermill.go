package obslog

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// Watermill adapts the global zap logger to watermill.LoggerAdapter.
func Watermill() watermill.LoggerAdapter { return &wmAdapter{l: L().Named("bus")} }

type wmAdapter struct {
	l *zap.Logger
}

func fieldsOf(f watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		out = append(out, zap.Any(k, v))
	}
	return out
}

func (a *wmAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(msg, append(fieldsOf(fields), zap.Error(err))...)
}

func (a *wmAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(msg, fieldsOf(fields)...)
}

func (a *wmAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, fieldsOf(fields)...)
}

func (a *wmAdapter) Trace(msg string, fields watermill.LogFields) {
	// trace sits one level below debug
	if ce := a.l.Check(zap.DebugLevel-1, msg); ce != nil {
		ce.Write(fieldsOf(fields)...)
	}
}

func (a *wmAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &wmAdapter{l: a.l.With(fieldsOf(fields)...)}
}
