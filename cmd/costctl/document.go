package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/odyssey-erp/odyssey-construction/internal/estimates"
)

// loadDocument reads a YAML (or JSON) document file, validates it and recalculates every
// derived value.
func loadDocument(path string, calc estimates.Calculator) (estimates.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return estimates.Document{}, fmt.Errorf("read %s: %w", path, err)
	}
	var doc estimates.Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return estimates.Document{}, fmt.Errorf("decode %s: %w", path, err)
	}
	if doc.Kind == "" {
		doc.Kind = estimates.KindBOQ
	}
	if doc.Status == "" {
		doc.Status = estimates.StatusDraft
	}
	if doc.Revision == 0 {
		doc.Revision = 1
	}
	for i := range doc.Items {
		if doc.Items[i].ID == "" {
			doc.Items[i].ID = fmt.Sprintf("row-%d", i+1)
		}
	}
	if err := calc.Validate(doc); err != nil {
		return estimates.Document{}, err
	}
	calc.Recalculate(&doc)
	return doc, nil
}
