package validation

import (
	"context"
	"errors"
	"log/slog"
)

// Log accumulates fatal and warning errors from a validation pass while
// logging each through a *slog.Logger.
type Log struct {
	*Result
	Logger *slog.Logger
	ctx    context.Context
}

// NewLog returns a new Log that reports through l. If l is nil, messages
// aren't logged, but errors still accumulate in the Log's Result.
func NewLog(ctx context.Context, l *slog.Logger) Log {
	return Log{
		ctx:    ctx,
		Logger: l,
		Result: &Result{
			fatal: []error{},
			warn:  []error{},
		},
	}
}

// With returns a new Log that includes the given attributes in all messages.
func (l Log) With(args ...any) Log {
	if l.Logger == nil {
		return l
	}
	return Log{
		ctx:    l.ctx,
		Result: l.Result,
		Logger: l.Logger.With(args...),
	}
}

func (l *Log) logWarning(err error) {
	if l.Logger == nil {
		return
	}
	l.Logger.WarnContext(l.ctx, err.Error(), l.codeAttrs(err)...)
}

func (l *Log) logFatal(err error) {
	if l.Logger == nil {
		return
	}
	l.Logger.ErrorContext(l.ctx, err.Error(), l.codeAttrs(err)...)
}

func (l *Log) codeAttrs(err error) []any {
	var verr *vErr
	if errors.As(err, &verr) && verr.Code() != "" {
		return []any{"ocfl_code", verr.Code()}
	}
	return nil
}

func (l *Log) AddFatal(err error) error {
	if err == nil {
		return nil
	}
	if l.Result == nil {
		l.Result = &Result{}
	}
	l.logFatal(err)
	return l.Result.AddFatal(err)
}

func (l *Log) AddWarn(err error) {
	if err == nil {
		return
	}
	if l.Result == nil {
		l.Result = &Result{}
	}
	l.logWarning(err)
	l.Result.AddWarn(err)
}

func (l *Log) AddResult(r *Result) {
	if r == nil {
		return
	}
	for _, e := range r.fatal {
		l.logFatal(e)
	}
	for _, e := range r.warn {
		l.logWarning(e)
	}
	if l.Result == nil {
		l.Result = r
		return
	}
	l.Result.Merge(r)
}

func (l Log) Err() error {
	if l.Result == nil {
		return nil
	}
	return l.Result.Err()
}

func (l Log) Fatal() []error {
	if l.Result == nil {
		return nil
	}
	return l.Result.Fatal()
}

func (l Log) Warn() []error {
	if l.Result == nil {
		return nil
	}
	return l.Result.Warn()
}
