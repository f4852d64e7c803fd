package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/seenimoa/insightagent/internal/edgar"
	"github.com/seenimoa/insightagent/internal/intent"
	"github.com/seenimoa/insightagent/internal/registry"
	"github.com/seenimoa/insightagent/pkg/models"
)

// ExtractionExhaustedError reports that none of a metric's candidate tags
// appear in the filing.
type ExtractionExhaustedError struct {
	Metric string
	Tried  []string
}

func (e *ExtractionExhaustedError) Error() string {
	return fmt.Sprintf("metric %s not found in filing (tried XBRL tags: %s)",
		e.Metric, strings.Join(e.Tried, ", "))
}

// ── Classification ──

// Category groups pipeline errors by how a caller should react to them.
type Category string

const (
	CategoryNotFound      Category = "not_found"
	CategoryBadRequest    Category = "bad_request"
	CategoryUnprocessable Category = "unprocessable"
	CategoryUpstream      Category = "upstream"
	CategoryTimeout       Category = "timeout"
	CategoryInternal      Category = "internal"
)

// Classify maps an error from any stage to its Category. A nil error is
// classified as internal.
func Classify(err error) Category {
	var (
		parseErr       *intent.ParseError
		validationErr  *models.ValidationError
		unsupportedErr *registry.UnsupportedIdentifierError
		notFoundErr    *edgar.NotFoundError
		exhaustedErr   *ExtractionExhaustedError
		fetchErr       *edgar.RemoteFetchError
		modelErr       *intent.ModelError
	)
	switch {
	case err == nil:
		return CategoryInternal
	// A ParseError may wrap a ValidationError; the query was still not understood.
	case errors.As(err, &parseErr):
		return CategoryUnprocessable
	case errors.As(err, &validationErr):
		return CategoryBadRequest
	case errors.As(err, &unsupportedErr),
		errors.As(err, &notFoundErr),
		errors.As(err, &exhaustedErr):
		return CategoryNotFound
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTimeout
	case errors.As(err, &fetchErr),
		errors.As(err, &modelErr),
		errors.Is(err, edgar.ErrNoUserAgent):
		return CategoryUpstream
	default:
		return CategoryInternal
	}
}

// HTTPStatus returns the response status for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return http.StatusNotFound
	case CategoryBadRequest:
		return http.StatusBadRequest
	case CategoryUnprocessable:
		return http.StatusUnprocessableEntity
	case CategoryUpstream:
		return http.StatusBadGateway
	case CategoryTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
