package logger

import "vaultsync/internal/app/port"

// slogAdapter implements port.Logger on top of the package-level functions,
// so services keep following whatever logger is installed globally.
type slogAdapter struct {
	args []any
}

// NewSlogAdapter creates a port.Logger backed by the global logger.
func NewSlogAdapter() port.Logger {
	return &slogAdapter{}
}

// With returns an adapter that adds args to every record, e.g. the component name.
func With(args ...any) port.Logger {
	return &slogAdapter{args: args}
}

func (a *slogAdapter) merge(args []any) []any {
	if len(a.args) == 0 {
		return args
	}
	out := make([]any, 0, len(a.args)+len(args))
	out = append(out, a.args...)
	return append(out, args...)
}

func (a *slogAdapter) Info(msg string, args ...any) {
	Info(msg, a.merge(args)...)
}

func (a *slogAdapter) Debug(msg string, args ...any) {
	Debug(msg, a.merge(args)...)
}

func (a *slogAdapter) Warn(msg string, args ...any) {
	Warn(msg, a.merge(args)...)
}

func (a *slogAdapter) Error(msg string, args ...any) {
	Error(msg, a.merge(args)...)
}
