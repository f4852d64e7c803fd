// Package intent turns free-text financial questions into structured intents.
package intent

import (
	"context"
	"fmt"

	"github.com/seenimoa/insightagent/pkg/models"
)

// Parser converts a natural-language query into an Intent.
type Parser interface {
	Parse(ctx context.Context, query string) (models.Intent, error)
}

// ParserFunc adapts an ordinary function to the Parser interface.
type ParserFunc func(ctx context.Context, query string) (models.Intent, error)

// Parse calls f(ctx, query).
func (f ParserFunc) Parse(ctx context.Context, query string) (models.Intent, error) {
	return f(ctx, query)
}

// ParseError reports a query that could not be turned into a usable intent:
// the model declined, replied with something that is not JSON, or left out a
// required field.
type ParseError struct {
	Query  string
	Reason string
	Raw    string // model reply, when there was one
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil && e.Err.Error() != e.Reason {
		return fmt.Sprintf("could not understand query %q: %s: %v", e.Query, e.Reason, e.Err)
	}
	return fmt.Sprintf("could not understand query %q: %s", e.Query, e.Reason)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ModelError reports a failure to reach the language model at all.
type ModelError struct {
	Provider string
	Err      error
}

func (e *ModelError) Error() string {
	return fmt.Sprintf("intent model %s: %v", e.Provider, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }
