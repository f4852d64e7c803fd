package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/seenimoa/insightagent/internal/pipeline"
	"github.com/seenimoa/insightagent/pkg/models"
)

// batchFile is the YAML document read by the batch command.
type batchFile struct {
	Queries []batchEntry `yaml:"queries"`
}

// batchEntry is either a plain question or a structured intent.
type batchEntry struct {
	Query  string `yaml:"query"`
	Ticker string `yaml:"ticker"`
	Metric string `yaml:"metric"`
	Year   int    `yaml:"year"`
	Form   string `yaml:"form"`
}

// UnmarshalYAML accepts a bare scalar as a free-text query.
func (e *batchEntry) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode {
		*e = batchEntry{Query: value.Value}
		return nil
	}
	type plain batchEntry
	var p plain
	if err := value.Decode(&p); err != nil {
		return err
	}
	*e = batchEntry(p)
	return nil
}

func (e batchEntry) intent() models.Intent {
	return models.Intent{CompanyIdentifier: e.Ticker, MetricName: e.Metric, Year: e.Year, FilingType: e.Form}
}

func (e batchEntry) request() pipeline.Request {
	if e.Query != "" {
		return pipeline.Request{Query: e.Query}
	}
	in := e.intent()
	return pipeline.Request{Intent: &in}
}

func readBatchFile(path string) (*batchFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	return parseBatch(data)
}

func parseBatch(data []byte) (*batchFile, error) {
	var f batchFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse batch file: %w", err)
	}
	if len(f.Queries) == 0 {
		return nil, fmt.Errorf("batch file has no queries")
	}
	for i, e := range f.Queries {
		if e.Query == "" && e.intent() == (models.Intent{}) {
			return nil, fmt.Errorf("batch entry %d is empty", i+1)
		}
	}
	return &f, nil
}

// needsParser reports whether any entry is free text.
func (f *batchFile) needsParser() bool {
	for _, e := range f.Queries {
		if e.Query != "" {
			return true
		}
	}
	return false
}

func (f *batchFile) requests() []pipeline.Request {
	reqs := make([]pipeline.Request, len(f.Queries))
	for i, e := range f.Queries {
		reqs[i] = e.request()
	}
	return reqs
}
