package edgar

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/seenimoa/insightagent/internal/registry"
	"github.com/seenimoa/insightagent/pkg/models"
)

// DocumentSource downloads primary filing documents. *Client implements it.
type DocumentSource interface {
	FetchDocument(ctx context.Context, cik string, ref models.FilingReference) (string, error)
	DocumentURL(cik string, ref models.FilingReference) string
}

// FilingDocument is a located and downloaded filing.
type FilingDocument struct {
	Identifier string                 `json:"identifier"`
	CIK        string                 `json:"cik"`
	Year       int                    `json:"year"`
	Form       string                 `json:"form"`
	Reference  models.FilingReference `json:"reference"`
	URL        string                 `json:"url"`
	Text       string                 `json:"-"`
}

// Retriever locates a filing and fetches its primary document.
type Retriever struct {
	locator  *Locator
	docs     DocumentSource
	registry *registry.Registry
	log      *slog.Logger
}

// NewRetriever wires a Retriever around a client that serves both indexes
// and documents.
func NewRetriever(c *Client, reg *registry.Registry, log *slog.Logger) *Retriever {
	return NewRetrieverFrom(NewLocator(c, reg, log), c, reg, log)
}

// NewRetrieverFrom wires a Retriever from separate parts.
func NewRetrieverFrom(loc *Locator, docs DocumentSource, reg *registry.Registry, log *slog.Logger) *Retriever {
	if log == nil {
		log = slog.Default()
	}
	return &Retriever{locator: loc, docs: docs, registry: reg, log: log}
}

// Locator returns the underlying locator.
func (r *Retriever) Locator() *Locator { return r.locator }

// Retrieve locates the filing and downloads its primary document.
func (r *Retriever) Retrieve(ctx context.Context, identifier string, year int, form string) (*FilingDocument, error) {
	ref, err := r.locator.Locate(ctx, identifier, year, form)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, identifier, year, form, ref)
}

// RetrieveLatest is Retrieve for the most recent filing within lookback years.
func (r *Retriever) RetrieveLatest(ctx context.Context, identifier, form string, fromYear, lookback int) (*FilingDocument, error) {
	ref, year, err := r.locator.LocateLatest(ctx, identifier, form, fromYear, lookback)
	if err != nil {
		return nil, err
	}
	return r.fetch(ctx, identifier, year, form, ref)
}

func (r *Retriever) fetch(ctx context.Context, identifier string, year int, form string, ref models.FilingReference) (*FilingDocument, error) {
	cik, err := r.registry.Lookup(identifier)
	if err != nil {
		return nil, err
	}
	url := r.docs.DocumentURL(cik, ref)
	r.log.Info("fetching filing document", "identifier", identifier, "year", year, "form", form, "url", url)

	text, err := r.docs.FetchDocument(ctx, cik, ref)
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s %d: %w", identifier, form, year, err)
	}
	return &FilingDocument{
		Identifier: identifier,
		CIK:        cik,
		Year:       year,
		Form:       form,
		Reference:  ref,
		URL:        url,
		Text:       text,
	}, nil
}
