// CRUD operations on a single collection.

package jsondb

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"slices"

	"github.com/invopop/jsonschema"
)

// ErrMissingID is returned when a record has no non-empty string "id" member.
var ErrMissingID = errors.New("record must have a non-empty string \"id\"")

// idKey is the JSON member holding a record's identifier.
const idKey = "id"

// Record is an untyped record.
type Record = map[string]any

// Collection is a typed view on one named collection of a DB.
//
// T must encode to a JSON object carrying a string "id" member. Fields of the
// stored objects that T does not know about are preserved by Update.
type Collection[T any] struct {
	db   *DB
	name string
}

// NewCollection returns the collection name of db.
//
// The collection does not need to exist; it is created by the first Create.
func NewCollection[T any](db *DB, name string) *Collection[T] {
	return &Collection[T]{db: db, name: name}
}

// Name returns the collection name.
func (c *Collection[T]) Name() string {
	return c.name
}

// Create appends rec to the collection and returns it unchanged.
//
// rec must encode to an object whose "id" member is a non-empty string,
// otherwise ErrMissingID is returned and nothing is written. Ids are not
// checked for uniqueness.
func (c *Collection[T]) Create(rec T) (T, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed to encode record: %w", err)
	}
	if _, err := recordID(raw); err != nil {
		var zero T
		return zero, err
	}
	err = c.db.modify(func(doc Document, _ bool) error {
		doc[c.name] = append(doc[c.name], raw)
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	c.db.log.Debug("Created record", "collection", c.name)
	return rec, nil
}

// All returns the records in insertion order. An absent collection or file
// yields an empty slice.
func (c *Collection[T]) All() ([]T, error) {
	doc, _, err := c.db.load()
	if err != nil {
		return nil, err
	}
	raws := doc[c.name]
	out := make([]T, 0, len(raws))
	for i, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("failed to decode %s[%d]: %w", c.name, i, err)
		}
		out = append(out, v)
	}
	return out, nil
}

// Get returns the first record with the given id.
func (c *Collection[T]) Get(id string) (T, bool, error) {
	var zero T
	doc, _, err := c.db.load()
	if err != nil {
		return zero, false, err
	}
	i, err := indexOf(doc[c.name], id)
	if err != nil || i < 0 {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(doc[c.name][i], &v); err != nil {
		return zero, false, fmt.Errorf("failed to decode %s[%d]: %w", c.name, i, err)
	}
	return v, true, nil
}

// Update merges patch over the first record with the given id.
//
// The merge is shallow: members present in patch replace the stored ones,
// others are kept. The "id" member of patch is ignored. The record keeps its
// position. Nothing is written when the record is not found.
func (c *Collection[T]) Update(id string, patch map[string]any) (T, bool, error) {
	var zero T
	fields := make(map[string]json.RawMessage, len(patch))
	for k, v := range patch {
		if k == idKey {
			continue
		}
		raw, err := json.Marshal(v)
		if err != nil {
			return zero, false, fmt.Errorf("failed to encode field %q: %w", k, err)
		}
		fields[k] = raw
	}
	var merged json.RawMessage
	err := c.db.modify(func(doc Document, _ bool) error {
		records, ok := doc[c.name]
		if !ok {
			return errNoChange
		}
		i, err := indexOf(records, id)
		if err != nil {
			return err
		}
		if i < 0 {
			return errNoChange
		}
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(records[i], &obj); err != nil {
			return fmt.Errorf("failed to decode %s[%d]: %w", c.name, i, err)
		}
		if obj == nil {
			obj = make(map[string]json.RawMessage, len(fields))
		}
		for k, v := range fields {
			obj[k] = v
		}
		if merged, err = json.Marshal(obj); err != nil {
			return fmt.Errorf("failed to encode %s[%d]: %w", c.name, i, err)
		}
		records[i] = merged
		return nil
	})
	if err != nil || merged == nil {
		return zero, false, err
	}
	var v T
	if err := json.Unmarshal(merged, &v); err != nil {
		return zero, true, fmt.Errorf("failed to decode updated record: %w", err)
	}
	c.db.log.Debug("Updated record", "collection", c.name, "id", id)
	return v, true, nil
}

// Delete removes the first record with the given id. It returns false without
// writing when no such record exists.
func (c *Collection[T]) Delete(id string) (bool, error) {
	deleted := false
	err := c.db.modify(func(doc Document, _ bool) error {
		records, ok := doc[c.name]
		if !ok {
			return errNoChange
		}
		i, err := indexOf(records, id)
		if err != nil {
			return err
		}
		if i < 0 {
			return errNoChange
		}
		doc[c.name] = slices.Delete(records, i, i+1)
		deleted = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if deleted {
		c.db.log.Debug("Deleted record", "collection", c.name, "id", id)
	}
	return deleted, nil
}

// Drop removes the whole collection from the file.
//
// It returns false without writing when the file does not exist. Otherwise the
// document is rewritten and true is returned, even if the collection was
// already absent.
func (c *Collection[T]) Drop() (bool, error) {
	dropped := false
	err := c.db.modify(func(doc Document, exists bool) error {
		if !exists {
			return errNoChange
		}
		delete(doc, c.name)
		dropped = true
		return nil
	})
	if err != nil {
		return false, err
	}
	if dropped {
		c.db.log.Debug("Dropped collection", "collection", c.name)
	}
	return dropped, nil
}

// Schema returns the JSON schema of T.
func (c *Collection[T]) Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{Anonymous: true, DoNotReference: true}
	return r.ReflectFromType(reflect.TypeFor[T]())
}

// indexOf returns the index of the first record whose "id" member is the
// string id, or -1. The member name is matched exactly.
func indexOf(records []json.RawMessage, id string) (int, error) {
	for i, raw := range records {
		var obj map[string]json.RawMessage
		if err := json.Unmarshal(raw, &obj); err != nil {
			return -1, fmt.Errorf("failed to decode record %d: %w", i, err)
		}
		var s *string
		if err := json.Unmarshal(obj[idKey], &s); err == nil && s != nil && *s == id {
			return i, nil
		}
	}
	return -1, nil
}

// recordID extracts the id of an encoded record.
func recordID(raw []byte) (string, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil || obj == nil {
		return "", ErrMissingID
	}
	var id string
	if err := json.Unmarshal(obj[idKey], &id); err != nil || id == "" {
		return "", ErrMissingID
	}
	return id, nil
}
