// Package openapi handles OpenAPI documents as generic JSON trees and
// computes structural diffs between two versions of a document.
package openapi

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is a parsed OpenAPI document. The service treats documents as
// opaque JSON trees so that unknown extensions survive a round trip.
type Document map[string]any

// Parse decodes a JSON OpenAPI document.
func Parse(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse openapi document: %w", err)
	}
	return doc, nil
}

// Encode renders the document as indented JSON.
func (d Document) Encode() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(d); err != nil {
		return nil, fmt.Errorf("encode openapi document: %w", err)
	}
	return buf.Bytes(), nil
}

// Clone returns a deep copy of the document via a JSON round trip.
func (d Document) Clone() (Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("clone openapi document: %w", err)
	}
	return Parse(data)
}

// Paths returns the paths object, or nil when absent.
func (d Document) Paths() map[string]any {
	return subMap(d, "paths")
}

// Schemas returns components.schemas, or nil when absent.
func (d Document) Schemas() map[string]any {
	return subMap(subMap(d, "components"), "schemas")
}

func subMap(m map[string]any, key string) map[string]any {
	if m == nil {
		return nil
	}
	v, ok := m[key].(map[string]any)
	if !ok {
		return nil
	}
	return v
}
