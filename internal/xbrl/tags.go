// Package xbrl resolves metric names to XBRL concept tags and looks up
// inline-XBRL tagged facts in filing documents.
package xbrl

import (
	"sort"
	"strings"
)

// DefaultNamespace is the taxonomy prefix applied to unqualified tags.
const DefaultNamespace = "us-gaap"

// builtinTags maps metric display names to candidate concepts, most specific
// first. Synonyms are handled by canonicalKey, so only one spelling is needed
// per metric.
var builtinTags = map[string][]string{
	"Revenue": {
		"RevenueFromContractWithCustomerExcludingAssessedTax",
		"Revenues",
	},
	"Revenues": {
		"RevenueFromContractWithCustomerExcludingAssessedTax",
		"Revenues",
	},
	"NetIncome":        {"NetIncomeLoss"},
	"TotalAssets":      {"Assets"},
	"TotalLiabilities": {"Liabilities"},
	"StockholdersEquity": {
		"StockholdersEquity",
		"StockholdersEquityIncludingPortionAttributableToNoncontrollingInterest",
	},
	"OperatingIncome": {"OperatingIncomeLoss"},
	"GrossProfit":     {"GrossProfit"},
	"CostOfRevenue": {
		"CostOfGoodsAndServicesSold",
		"CostOfRevenue",
	},
	"EPS": {
		"EarningsPerShareDiluted",
		"EarningsPerShareBasic",
	},
	"EPSBasic":   {"EarningsPerShareBasic"},
	"EPSDiluted": {"EarningsPerShareDiluted"},
	"CashAndEquivalents": {
		"CashAndCashEquivalentsAtCarryingValue",
		"CashCashEquivalentsRestrictedCashAndRestrictedCashEquivalents",
	},
	"OperatingCashFlow": {"NetCashProvidedByUsedInOperatingActivities"},
	"LongTermDebt": {
		"LongTermDebtNoncurrent",
		"LongTermDebt",
	},
	"ResearchAndDevelopment": {"ResearchAndDevelopmentExpense"},
}

// Resolver maps human metric names to ordered, namespace-qualified tags.
// It is immutable after construction and safe for concurrent use.
type Resolver struct {
	byName map[string][]string // display name -> tags
	byKey  map[string]string   // canonical key -> display name
}

// NewResolver builds a resolver from the built-in mapping. Entries in extra
// replace the built-in candidate list for the same metric.
func NewResolver(extra map[string][]string) *Resolver {
	r := &Resolver{
		byName: make(map[string][]string, len(builtinTags)+len(extra)),
		byKey:  make(map[string]string, len(builtinTags)+len(extra)),
	}
	for name, tags := range builtinTags {
		r.add(name, tags)
	}
	for name, tags := range extra {
		if len(tags) == 0 {
			continue
		}
		// An override must win over a built-in that shares the canonical key.
		if prev, ok := r.byKey[canonicalKey(name)]; ok && prev != name {
			delete(r.byName, prev)
		}
		r.add(name, tags)
	}
	return r
}

func (r *Resolver) add(name string, tags []string) {
	normalized := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = NormalizeTag(t); t != "" {
			normalized = append(normalized, t)
		}
	}
	if len(normalized) == 0 {
		return
	}
	r.byName[name] = normalized
	r.byKey[canonicalKey(name)] = name
}

// Resolve returns the candidate tags for a metric, in priority order. Unknown
// metrics resolve to the metric name itself, namespace-qualified. The result
// is never empty and is a fresh slice owned by the caller.
func (r *Resolver) Resolve(metric string) []string {
	if tags, ok := r.byName[metric]; ok {
		return append([]string(nil), tags...)
	}
	if name, ok := r.byKey[canonicalKey(metric)]; ok {
		return append([]string(nil), r.byName[name]...)
	}
	return []string{NormalizeTag(metric)}
}

// Known reports whether the metric has an explicit mapping.
func (r *Resolver) Known(metric string) bool {
	if _, ok := r.byName[metric]; ok {
		return true
	}
	_, ok := r.byKey[canonicalKey(metric)]
	return ok
}

// Metrics returns the known metric display names, sorted.
func (r *Resolver) Metrics() []string {
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NormalizeTag qualifies a tag with DefaultNamespace unless it already
// carries a namespace separator.
func NormalizeTag(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" || strings.Contains(tag, ":") {
		return tag
	}
	return DefaultNamespace + ":" + tag
}

// canonicalKey folds case and drops word separators so "Net Income",
// "net_income" and "NetIncome" share a key.
func canonicalKey(name string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(name) {
		switch c {
		case ' ', '_', '-', '\t':
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}
