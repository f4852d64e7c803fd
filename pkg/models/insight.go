package models

import (
	"fmt"
	"strings"
	"time"
)

// --- Filing types ---

// Supported SEC form types.
const (
	FormAnnual    = "10-K"
	FormQuarterly = "10-Q"
)

// DefaultFilingType is used when an intent does not name a form.
const DefaultFilingType = FormAnnual

// EDGAR full-text data starts in 1993; anything earlier is not a plausible
// fiscal year for a filing lookup.
const minFiscalYear = 1993

// --- Intent ---

// Intent is the structured form of a metric question.
type Intent struct {
	CompanyIdentifier string `json:"company_identifier"` // ticker, e.g. "AAPL"
	MetricName        string `json:"metric_name"`        // e.g. "NetIncome", "Revenue"
	Year              int    `json:"year"`
	FilingType        string `json:"filing_type"` // "10-K" or "10-Q"
}

// ValidationError reports an intent field that violates its invariant.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// Normalize returns a copy with trimmed fields, an upper-cased identifier and
// the default filing type filled in.
func (i Intent) Normalize() Intent {
	i.CompanyIdentifier = strings.ToUpper(strings.TrimSpace(i.CompanyIdentifier))
	i.MetricName = strings.TrimSpace(i.MetricName)
	i.FilingType = strings.ToUpper(strings.TrimSpace(i.FilingType))
	if i.FilingType == "" {
		i.FilingType = DefaultFilingType
	}
	return i
}

// Validate checks the intent invariants. Call Normalize first.
func (i Intent) Validate() error {
	if i.CompanyIdentifier == "" {
		return &ValidationError{Field: "company_identifier", Reason: "is required"}
	}
	if i.MetricName == "" {
		return &ValidationError{Field: "metric_name", Reason: "is required"}
	}
	maxYear := time.Now().Year() + 1
	if i.Year < minFiscalYear || i.Year > maxYear {
		return &ValidationError{
			Field:  "year",
			Reason: fmt.Sprintf("%d is outside %d-%d", i.Year, minFiscalYear, maxYear),
		}
	}
	switch i.FilingType {
	case FormAnnual, FormQuarterly:
	default:
		return &ValidationError{
			Field:  "filing_type",
			Reason: fmt.Sprintf("%q is not one of %s, %s", i.FilingType, FormAnnual, FormQuarterly),
		}
	}
	return nil
}

// --- Filing reference ---

// FilingReference points at one document inside an EDGAR filing package.
type FilingReference struct {
	AccessionID     string `json:"accession_id"`     // dashes stripped, e.g. "000032019323000077"
	PrimaryDocument string `json:"primary_document"` // e.g. "aapl-20230930.htm"
}

// NormalizeAccession strips the dash separators from an accession number.
func NormalizeAccession(accession string) string {
	return strings.ReplaceAll(strings.TrimSpace(accession), "-", "")
}

// --- Pipeline output ---

// ExtractedValue is a single metric value pulled from a filing.
type ExtractedValue struct {
	Ticker     string `json:"ticker"`
	Metric     string `json:"metric"`
	TagUsed    string `json:"tag_used"`
	Year       int    `json:"year"`
	FilingType string `json:"filing_type"`
	Value      string `json:"value"`          // raw text, may contain separators
	Unit       string `json:"unit,omitempty"` // unitRef, empty when absent
}

// Stage names a step of the query pipeline.
type Stage string

const (
	StageParseIntent    Stage = "parse_intent"
	StageRetrieveFiling Stage = "retrieve_filing"
	StageExtractMetric  Stage = "extract_metric"
	StageDone           Stage = "done"
	StageFailed         Stage = "failed"
)

// PipelineResult is the outcome of one query run.
type PipelineResult struct {
	RunID          string          `json:"run_id"`
	Query          string          `json:"query,omitempty"`
	Success        bool            `json:"success"`
	Stage          Stage           `json:"stage"`
	ParsedIntent   *Intent         `json:"parsed_intent"`
	ExtractedValue *ExtractedValue `json:"extracted_value"`
	Error          string          `json:"error,omitempty"`
	ErrorKind      string          `json:"error_kind,omitempty"`
}
