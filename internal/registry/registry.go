// Package registry maps company identifiers (tickers) to the 10-digit
// central index keys (CIKs) used to address EDGAR submissions.
package registry

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// cikWidth is the zero-padded width of a CIK in EDGAR submission URLs.
const cikWidth = 10

// defaultCompanies is the built-in registry.
var defaultCompanies = map[string]string{
	"AAPL":  "0000320193",
	"MSFT":  "0000789019",
	"GOOGL": "0001652044",
	"AMZN":  "0001018724",
	"TSLA":  "0001318605",
	"META":  "0001326801",
	"NVDA":  "0001045810",
	"NFLX":  "0001065280",
}

// UnsupportedIdentifierError is returned when an identifier is not registered.
type UnsupportedIdentifierError struct {
	Identifier string
	Supported  []string
}

func (e *UnsupportedIdentifierError) Error() string {
	return fmt.Sprintf("unsupported company identifier %q (supported: %s)",
		e.Identifier, strings.Join(e.Supported, ", "))
}

// Registry is an immutable identifier -> CIK mapping. Safe for concurrent use.
type Registry struct {
	keys map[string]string
}

// Default returns the built-in registry.
func Default() *Registry {
	r, _ := New(defaultCompanies)
	return r
}

// New builds a registry. Identifiers are upper-cased; keys must be numeric
// and are zero-padded to 10 digits.
func New(companies map[string]string) (*Registry, error) {
	keys := make(map[string]string, len(companies))
	for id, cik := range companies {
		padded, err := PadCIK(cik)
		if err != nil {
			return nil, fmt.Errorf("registry entry %s: %w", id, err)
		}
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" {
			return nil, fmt.Errorf("registry entry with CIK %s has an empty identifier", cik)
		}
		keys[id] = padded
	}
	return &Registry{keys: keys}, nil
}

// fileFormat is the on-disk YAML layout:
//
//	companies:
//	  AAPL: "0000320193"
type fileFormat struct {
	Companies map[string]string `yaml:"companies"`
}

// LoadFile reads a registry from a YAML file.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read registry %s: %w", path, err)
	}
	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse registry %s: %w", path, err)
	}
	if len(f.Companies) == 0 {
		return nil, fmt.Errorf("registry %s: no companies defined", path)
	}
	return New(f.Companies)
}

// Lookup returns the padded CIK for an identifier (case-insensitive).
func (r *Registry) Lookup(identifier string) (string, error) {
	id := strings.ToUpper(strings.TrimSpace(identifier))
	if cik, ok := r.keys[id]; ok {
		return cik, nil
	}
	return "", &UnsupportedIdentifierError{Identifier: identifier, Supported: r.Identifiers()}
}

// Supports reports whether the identifier is registered.
func (r *Registry) Supports(identifier string) bool {
	_, ok := r.keys[strings.ToUpper(strings.TrimSpace(identifier))]
	return ok
}

// Identifiers returns the registered identifiers in sorted order.
func (r *Registry) Identifiers() []string {
	ids := make([]string, 0, len(r.keys))
	for id := range r.keys {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns a copy of the mapping.
func (r *Registry) Entries() map[string]string {
	out := make(map[string]string, len(r.keys))
	for k, v := range r.keys {
		out[k] = v
	}
	return out
}

// PadCIK validates a numeric CIK and zero-pads it to 10 digits.
func PadCIK(cik string) (string, error) {
	cik = strings.TrimSpace(cik)
	if cik == "" || !isDigits(cik) {
		return "", fmt.Errorf("CIK %q is not numeric", cik)
	}
	if len(cik) > cikWidth {
		return "", fmt.Errorf("CIK %q is longer than %d digits", cik, cikWidth)
	}
	return strings.Repeat("0", cikWidth-len(cik)) + cik, nil
}

// UnpadCIK strips leading zeros, as used in EDGAR archive paths.
func UnpadCIK(cik string) string {
	n, err := strconv.ParseUint(strings.TrimSpace(cik), 10, 64)
	if err != nil {
		return strings.TrimLeft(cik, "0")
	}
	return strconv.FormatUint(n, 10)
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}
