package edgar

import (
	"fmt"
	"strings"
)

// RemoteFetchError is returned when EDGAR answers with a failure status or
// cannot be reached. StatusCode is 0 for transport failures.
type RemoteFetchError struct {
	URL        string
	StatusCode int
	Body       string
	Err        error
}

func (e *RemoteFetchError) Error() string {
	msg := "fetch " + e.URL
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": HTTP %d", e.StatusCode)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RemoteFetchError) Unwrap() error { return e.Err }

// SegmentError records an archive segment that could not be read.
type SegmentError struct {
	Segment string
	Err     error
}

func (e SegmentError) Error() string {
	return fmt.Sprintf("%s: %v", e.Segment, e.Err)
}

// NotFoundError is returned when no filing matches the requested form and
// year in any readable segment. Skipped lists archive segments that failed.
type NotFoundError struct {
	Identifier string
	Year       int
	Form       string
	Skipped    []SegmentError
}

func (e *NotFoundError) Error() string {
	msg := fmt.Sprintf("no %s found for %s in %d", e.Form, e.Identifier, e.Year)
	if len(e.Skipped) == 0 {
		return msg
	}
	names := make([]string, len(e.Skipped))
	for i, s := range e.Skipped {
		names[i] = s.Segment
	}
	return fmt.Sprintf("%s (%d archive segment(s) unreadable: %s)",
		msg, len(e.Skipped), strings.Join(names, ", "))
}
