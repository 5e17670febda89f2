package merge

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/c0deZ3R0/fieldsync/mutation"
)

// Adapter teaches the resolver how to handle one record type. Overlay and
// Synthesize must not modify their inputs.
type Adapter[T any] interface {
	// ID returns the record identifier.
	ID(item T) string
	// Overlay shallow-merges a REPLACE or PATCH body onto item.
	Overlay(item T, body mutation.Payload) (T, error)
	// Synthesize builds the provisional record a queued CREATE will produce.
	Synthesize(id string, body mutation.Payload) (T, error)
	// Decode parses one element of a fetched collection.
	Decode(raw json.RawMessage) (T, error)
}

// Typed adapts a record type T whose writes carry payload P. Apply and New
// receive P already converted from whatever payload the task holds.
type Typed[T any, P mutation.Payload] struct {
	IDOf  func(T) string
	Apply func(item T, body P) T
	New   func(id string, body P) T
}

var _ Adapter[Record] = Documents{}

// ID implements Adapter.
func (t Typed[T, P]) ID(item T) string { return t.IDOf(item) }

// Overlay implements Adapter.
func (t Typed[T, P]) Overlay(item T, body mutation.Payload) (T, error) {
	p, err := mutation.As[P](body)
	if err != nil {
		return item, err
	}
	return t.Apply(item, p), nil
}

// Synthesize implements Adapter.
func (t Typed[T, P]) Synthesize(id string, body mutation.Payload) (T, error) {
	p, err := mutation.As[P](body)
	if err != nil {
		var zero T
		return zero, err
	}
	return t.New(id, p), nil
}

// Decode implements Adapter.
func (t Typed[T, P]) Decode(raw json.RawMessage) (T, error) {
	var item T
	err := json.Unmarshal(raw, &item)
	return item, err
}

// Record is an untyped item.
type Record = map[string]any

// Documents is the adapter for collections without a modeled type.
type Documents struct {
	// IDField names the identifier key. Defaults to "id".
	IDField string
}

func (d Documents) idField() string {
	if d.IDField == "" {
		return "id"
	}
	return d.IDField
}

// ID implements Adapter.
func (d Documents) ID(item Record) string {
	v, ok := item[d.idField()]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Overlay implements Adapter.
func (d Documents) Overlay(item Record, body mutation.Payload) (Record, error) {
	fields, err := mutation.Fields(body)
	if err != nil {
		return item, err
	}
	out := maps.Clone(item)
	if out == nil {
		out = make(Record, len(fields))
	}
	id := out[d.idField()]
	maps.Copy(out, fields)
	if id != nil {
		out[d.idField()] = id
	}
	return out, nil
}

// Synthesize implements Adapter.
func (d Documents) Synthesize(id string, body mutation.Payload) (Record, error) {
	fields, err := mutation.Fields(body)
	if err != nil {
		return nil, err
	}
	if fields == nil {
		fields = make(Record, 1)
	}
	fields[d.idField()] = id
	return fields, nil
}

// Decode implements Adapter.
func (d Documents) Decode(raw json.RawMessage) (Record, error) {
	var item Record
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, err
	}
	return item, nil
}

// DecodeAll decodes a fetched collection, dropping elements the adapter
// rejects. It returns the number dropped.
func DecodeAll[T any](raw []json.RawMessage, a Adapter[T]) ([]T, int) {
	out := make([]T, 0, len(raw))
	dropped := 0
	for _, r := range raw {
		item, err := a.Decode(r)
		if err != nil {
			dropped++
			continue
		}
		out = append(out, item)
	}
	return out, dropped
}
