package relaymq

import "context"

// ErrorHandler wraps the logging backend the adapter calls into. It is
// deliberately minimal: the concrete backend is an external collaborator
// (spec.md §1). See the log subpackage for a stdout default.
type ErrorHandler interface {
	Error(ctx context.Context, err error)
}
