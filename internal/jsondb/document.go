// Encoding of the on-disk document.

package jsondb

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
)

// Document is the root of the data file: collection name to records.
//
// Records are kept in their encoded form so that rewriting the document does
// not alter records nobody touched.
type Document map[string][]json.RawMessage

// Names returns the sorted collection names.
func (d Document) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// DecodeError reports malformed persisted content.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("failed to decode document: %v", e.Err)
	}
	return fmt.Sprintf("failed to decode document %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

var errEmptyDocument = errors.New("empty content")

// Decode parses the content of a data file.
//
// A JSON null yields an empty document. Malformed or empty content returns a
// *DecodeError.
func Decode(data []byte) (Document, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, &DecodeError{Err: errEmptyDocument}
	}
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, &DecodeError{Err: err}
	}
	if doc == nil {
		doc = Document{}
	}
	for name, records := range doc {
		if records == nil {
			doc[name] = []json.RawMessage{}
		}
	}
	return doc, nil
}

// Encode serializes the document as indented JSON with sorted keys.
func Encode(doc Document) ([]byte, error) {
	if doc == nil {
		doc = Document{}
	}
	// Raw records are re-indented along with the rest of the document.
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode document: %w", err)
	}
	return append(data, '\n'), nil
}
