package edgar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/seenimoa/insightagent/internal/registry"
	"github.com/seenimoa/insightagent/pkg/models"
)

// IndexSource supplies filing index segments. *Client implements it.
type IndexSource interface {
	FetchIndex(ctx context.Context, cik string) (*Index, error)
	FetchArchive(ctx context.Context, name string) (Segment, error)
}

// Locator finds the filing matching (company, year, form).
type Locator struct {
	source   IndexSource
	registry *registry.Registry
	log      *slog.Logger
}

// NewLocator creates a Locator. A nil logger uses slog.Default.
func NewLocator(source IndexSource, reg *registry.Registry, log *slog.Logger) *Locator {
	if log == nil {
		log = slog.Default()
	}
	return &Locator{source: source, registry: reg, log: log}
}

// Locate returns the reference of the most recent filing of form filed in
// year. The recent segment is scanned first, then each archive segment in
// turn. Unreadable archives are skipped and reported on the NotFoundError.
func (l *Locator) Locate(ctx context.Context, identifier string, year int, form string) (models.FilingReference, error) {
	cik, err := l.registry.Lookup(identifier)
	if err != nil {
		return models.FilingReference{}, err
	}

	idx, err := l.source.FetchIndex(ctx, cik)
	if err != nil {
		return models.FilingReference{}, fmt.Errorf("load filing index for %s: %w", identifier, err)
	}

	if f, ok := idx.Recent.Find(year, form); ok {
		return f.Reference(), nil
	}

	var skipped []SegmentError
	for _, name := range idx.Archives {
		if err := ctx.Err(); err != nil {
			return models.FilingReference{}, err
		}
		seg, err := l.source.FetchArchive(ctx, name)
		if err != nil {
			if ctx.Err() != nil {
				return models.FilingReference{}, ctx.Err()
			}
			l.log.Warn("skipping unreadable archive segment", "identifier", identifier, "segment", name, "error", err)
			skipped = append(skipped, SegmentError{Segment: name, Err: err})
			continue
		}
		if f, ok := seg.Find(year, form); ok {
			return f.Reference(), nil
		}
	}

	return models.FilingReference{}, &NotFoundError{
		Identifier: identifier,
		Year:       year,
		Form:       form,
		Skipped:    skipped,
	}
}

// LocateLatest walks back from fromYear through lookback earlier years and
// returns the first filing found along with its year.
func (l *Locator) LocateLatest(ctx context.Context, identifier, form string, fromYear, lookback int) (models.FilingReference, int, error) {
	var lastErr error
	for year := fromYear; year >= fromYear-lookback; year-- {
		ref, err := l.Locate(ctx, identifier, year, form)
		if err == nil {
			return ref, year, nil
		}
		var nf *NotFoundError
		if !errors.As(err, &nf) {
			return models.FilingReference{}, 0, err
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = &NotFoundError{Identifier: identifier, Year: fromYear, Form: form}
	}
	return models.FilingReference{}, 0, fmt.Errorf("no %s for %s in %d-%d: %w", form, identifier, fromYear-lookback, fromYear, lastErr)
}
