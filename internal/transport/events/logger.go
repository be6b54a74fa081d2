package events

import (
	"github.com/ThreeDotsLabs/watermill"
	"go.uber.org/zap"
)

// ZapAdapter routes watermill's internal logging into zap.
type ZapAdapter struct {
	l *zap.Logger
}

// NewZapAdapter wraps l as a watermill.LoggerAdapter.
func NewZapAdapter(l *zap.Logger) watermill.LoggerAdapter {
	return &ZapAdapter{l: l.Named("watermill")}
}

func (a *ZapAdapter) Error(msg string, err error, fields watermill.LogFields) {
	a.l.Error(msg, append(toZap(fields), zap.Error(err))...)
}

func (a *ZapAdapter) Info(msg string, fields watermill.LogFields) {
	a.l.Info(msg, toZap(fields)...)
}

func (a *ZapAdapter) Debug(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, toZap(fields)...)
}

// Trace maps to debug; zap has no finer level.
func (a *ZapAdapter) Trace(msg string, fields watermill.LogFields) {
	a.l.Debug(msg, toZap(fields)...)
}

func (a *ZapAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return &ZapAdapter{l: a.l.With(toZap(fields)...)}
}

func toZap(fields watermill.LogFields) []zap.Field {
	out := make([]zap.Field, 0, len(fields))
	for k, v := range fields {
		out = append(out, zap.Any(k, v))
	}
	return out
}
