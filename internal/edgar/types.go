package edgar

import (
	"sort"
	"strconv"
	"strings"

	"github.com/seenimoa/insightagent/pkg/models"
)

// --- EDGAR Submissions (data.sec.gov/submissions) ---

// submissionsResponse is the response from the company submissions endpoint.
type submissionsResponse struct {
	CIK     string       `json:"cik"`
	Name    string       `json:"name"`
	Tickers []string     `json:"tickers"`
	Filings edgarFilings `json:"filings"`
}

type edgarFilings struct {
	Recent filingColumns `json:"recent"`
	Files  []archiveFile `json:"files"`
}

// filingColumns is EDGAR's column-oriented filing table. The archive files
// referenced by Files use this shape at their top level.
type filingColumns struct {
	AccessionNumber []string `json:"accessionNumber"`
	FilingDate      []string `json:"filingDate"`
	Form            []string `json:"form"`
	PrimaryDocument []string `json:"primaryDocument"`
}

type archiveFile struct {
	Name        string `json:"name"`
	FilingCount int    `json:"filingCount"`
	FilingFrom  string `json:"filingFrom"`
	FilingTo    string `json:"filingTo"`
}

// --- Row-oriented index ---

// Filing is one row of a company's filing index.
type Filing struct {
	Form            string `json:"form"`
	FilingDate      string `json:"filing_date"` // YYYY-MM-DD
	AccessionNumber string `json:"accession_number"`
	PrimaryDocument string `json:"primary_document"`
}

// Year returns the calendar year of the filing date.
func (f Filing) Year() (int, bool) {
	if len(f.FilingDate) < 4 {
		return 0, false
	}
	y, err := strconv.Atoi(f.FilingDate[:4])
	if err != nil {
		return 0, false
	}
	return y, true
}

// Reference converts the row into a fetchable reference.
func (f Filing) Reference() models.FilingReference {
	return models.FilingReference{
		AccessionID:     models.NormalizeAccession(f.AccessionNumber),
		PrimaryDocument: f.PrimaryDocument,
	}
}

// Segment is one page of the filing index: the recent block or an archive file.
type Segment struct {
	Name    string
	Filings []Filing
}

// Find returns the first filing of the given form filed in year.
func (s Segment) Find(year int, form string) (Filing, bool) {
	for _, f := range s.Filings {
		if f.Form != form {
			continue
		}
		if y, ok := f.Year(); ok && y == year {
			return f, true
		}
	}
	return Filing{}, false
}

// Index is a company's filing index: the recent segment plus the names of
// archive segments still to be fetched.
type Index struct {
	CIK      string
	Name     string
	Recent   Segment
	Archives []string
}

const recentSegment = "recent"

// newIndex converts a submissions response into an Index. Only archive
// files following EDGAR's "CIK..." naming are kept.
func newIndex(cik string, resp *submissionsResponse) *Index {
	idx := &Index{
		CIK:    cik,
		Name:   resp.Name,
		Recent: newSegment(recentSegment, resp.Filings.Recent),
	}
	for _, f := range resp.Filings.Files {
		if strings.HasPrefix(f.Name, "CIK") {
			idx.Archives = append(idx.Archives, f.Name)
		}
	}
	return idx
}

// newSegment zips the parallel columns into rows and orders them newest first.
func newSegment(name string, cols filingColumns) Segment {
	rows := cols.zip()
	sortNewestFirst(rows)
	return Segment{Name: name, Filings: rows}
}

// zip aligns the four columns by position. Positions past the end of the
// shortest column cannot be aligned and are dropped.
func (c filingColumns) zip() []Filing {
	n := min(len(c.Form), len(c.FilingDate), len(c.AccessionNumber), len(c.PrimaryDocument))
	rows := make([]Filing, n)
	for i := 0; i < n; i++ {
		rows[i] = Filing{
			Form:            c.Form[i],
			FilingDate:      c.FilingDate[i],
			AccessionNumber: c.AccessionNumber[i],
			PrimaryDocument: c.PrimaryDocument[i],
		}
	}
	return rows
}

// sortNewestFirst orders by filing date descending. The sort is stable so
// rows sharing a date keep the upstream order.
func sortNewestFirst(rows []Filing) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].FilingDate > rows[j].FilingDate
	})
}
