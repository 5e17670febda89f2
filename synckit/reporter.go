package synckit

import (
	"context"

	"github.com/c0deZ3R0/fieldsync/mutation"
)

// ErrorReporter receives writes the server refused. Reports are delivered
// off the drain loop; a failing reporter only gets a debug log.
type ErrorReporter interface {
	Report(ctx context.Context, task mutation.Task, detail string) error
}

// ReporterFunc adapts a function to ErrorReporter.
type ReporterFunc func(ctx context.Context, task mutation.Task, detail string) error

func (f ReporterFunc) Report(ctx context.Context, task mutation.Task, detail string) error {
	return f(ctx, task, detail)
}

type discardReporter struct{}

func (discardReporter) Report(context.Context, mutation.Task, string) error { return nil }
