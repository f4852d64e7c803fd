package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seenimoa/insightagent/internal/xbrl"
	"github.com/seenimoa/insightagent/pkg/models"
)

func TestParseBatchMixedEntries(t *testing.T) {
	f, err := parseBatch([]byte(`
queries:
  - "What was Apple's net income in 2022?"
  - {ticker: MSFT, metric: Revenue, year: 2023, form: 10-K}
  - query: "Tesla total assets 2021"
`))
	require.NoError(t, err)
	require.Len(t, f.Queries, 3)
	assert.True(t, f.needsParser())

	reqs := f.requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "What was Apple's net income in 2022?", reqs[0].Query)
	assert.Nil(t, reqs[0].Intent)

	require.NotNil(t, reqs[1].Intent)
	assert.Equal(t, models.Intent{CompanyIdentifier: "MSFT", MetricName: "Revenue", Year: 2023, FilingType: "10-K"}, *reqs[1].Intent)
	assert.Equal(t, "Tesla total assets 2021", reqs[2].Query)
}

func TestParseBatchStructuredOnly(t *testing.T) {
	f, err := parseBatch([]byte("queries:\n  - {ticker: AAPL, metric: NetIncome, year: 2022}\n"))
	require.NoError(t, err)
	assert.False(t, f.needsParser())
}

func TestParseBatchErrors(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no queries", "queries: []\n", "no queries"},
		{"missing key", "other: 1\n", "no queries"},
		{"empty entry", "queries:\n  - {}\n", "entry 1 is empty"},
		{"bad yaml", "queries: [\n", "parse batch file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBatch([]byte(tt.in))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestReadBatchFileMissing(t *testing.T) {
	_, err := readBatchFile(t.TempDir() + "/missing.yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read batch file")
}

func TestFilterFacts(t *testing.T) {
	facts := []xbrl.Fact{
		{Name: "us-gaap:NetIncomeLoss"},
		{Name: "us-gaap:Revenues"},
		{Name: "us-gaap:ComprehensiveIncomeNetOfTax"},
	}
	assert.Len(t, filterFacts(facts, ""), 3)

	got := filterFacts(facts, " income ")
	require.Len(t, got, 2)
	assert.Equal(t, "us-gaap:NetIncomeLoss", got[0].Name)
	assert.Empty(t, filterFacts(facts, "assets"))
}
