package intent

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	jsonrepair "github.com/RealAlexandreAI/json-repair"
	hjson "github.com/hjson/hjson-go/v4"

	"github.com/seenimoa/insightagent/pkg/models"
)

// Accepted key spellings, most specific first.
var (
	companyKeys = []string{"company_identifier", "ticker", "company", "symbol"}
	metricKeys  = []string{"metric_name", "metric"}
	yearKeys    = []string{"year", "fiscal_year"}
	formKeys    = []string{"filing_type", "form_type", "form"}
)

var yearPattern = regexp.MustCompile(`\b(19|20)\d{2}\b`)

// Decode reads a model reply into a normalized Intent. The reply is tried as
// strict JSON, then after json-repair, then as Hjson. A reply carrying an
// "error" field, or missing a required field, is a *ParseError.
func Decode(query, raw string) (models.Intent, error) {
	obj, err := decodeObject(raw)
	if err != nil {
		return models.Intent{}, &ParseError{Query: query, Reason: "model reply is not a JSON object", Raw: raw, Err: err}
	}

	if msg := firstString(obj, "error"); msg != "" {
		return models.Intent{}, &ParseError{Query: query, Reason: msg, Raw: raw}
	}

	in := models.Intent{
		CompanyIdentifier: firstString(obj, companyKeys...),
		MetricName:        firstString(obj, metricKeys...),
		FilingType:        firstString(obj, formKeys...),
	}
	var missing []string
	if in.CompanyIdentifier == "" {
		missing = append(missing, "company_identifier")
	}
	if in.MetricName == "" {
		missing = append(missing, "metric_name")
	}
	year, ok := firstYear(obj, yearKeys...)
	if !ok {
		missing = append(missing, "year")
	}
	in.Year = year
	if len(missing) > 0 {
		return models.Intent{}, &ParseError{
			Query:  query,
			Reason: "missing " + strings.Join(missing, ", "),
			Raw:    raw,
		}
	}

	in = in.Normalize()
	if err := in.Validate(); err != nil {
		return models.Intent{}, &ParseError{Query: query, Reason: err.Error(), Raw: raw, Err: err}
	}
	return in, nil
}

// decodeObject applies the strict, repair, then Hjson strategies in turn.
func decodeObject(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty reply")
	}

	var obj map[string]any
	strictErr := json.Unmarshal([]byte(raw), &obj)
	if strictErr == nil && obj != nil {
		return obj, nil
	}

	if repaired, err := jsonrepair.RepairJSON(raw); err == nil {
		obj = nil
		if json.Unmarshal([]byte(repaired), &obj) == nil && len(obj) > 0 {
			return obj, nil
		}
	}

	obj = nil
	if err := hjson.Unmarshal([]byte(raw), &obj); err == nil && len(obj) > 0 {
		return obj, nil
	}
	if strictErr == nil {
		strictErr = fmt.Errorf("reply is null")
	}
	return nil, strictErr
}

func firstString(obj map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}

// firstYear accepts a number, a numeric string, or a string containing a
// four-digit year such as "FY2023".
func firstYear(obj map[string]any, keys ...string) (int, bool) {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case float64:
			if v == math.Trunc(v) && v > 0 {
				return int(v), true
			}
		case string:
			s := strings.TrimSpace(v)
			if n, err := strconv.Atoi(s); err == nil {
				return n, true
			}
			if m := yearPattern.FindString(s); m != "" {
				n, _ := strconv.Atoi(m)
				return n, true
			}
		}
	}
	return 0, false
}
