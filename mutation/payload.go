package mutation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Payload is the body of a write. Concrete payload types are registered by
// kind so that persisted tasks decode back into them; anything else falls
// back to a Document.
type Payload interface {
	Kind() string
}

// DocumentKind is the kind reported by a Document with no type of its own.
const DocumentKind = "document"

// Document is the opaque key/value payload used for resource types that
// have no modeled variant.
type Document struct {
	Type   string
	Fields map[string]any
}

// Kind implements Payload.
func (d Document) Kind() string {
	if d.Type == "" {
		return DocumentKind
	}
	return d.Type
}

// MarshalJSON encodes only the fields so a Document goes over the wire as a
// plain object.
func (d Document) MarshalJSON() ([]byte, error) {
	if d.Fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(d.Fields)
}

// NewDocument builds an untyped document from fields.
func NewDocument(fields map[string]any) Document {
	return Document{Fields: fields}
}

// Envelope is the persisted form of a payload.
type Envelope struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

type decoder func(json.RawMessage) (Payload, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]decoder{}
)

// Register makes P decodable from its kind. It panics on a kind collision,
// which can only happen at init time.
func Register[P Payload]() {
	var zero P
	kind := zero.Kind()
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, dup := registry[kind]; dup {
		panic(fmt.Sprintf("mutation: payload kind %q registered twice", kind))
	}
	registry[kind] = func(data json.RawMessage) (Payload, error) {
		var p P
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, err
		}
		return p, nil
	}
}

// Registered reports whether kind has a modeled payload type.
func Registered(kind string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := registry[kind]
	return ok
}

// Wrap encodes p into its envelope.
func Wrap(p Payload) (Envelope, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s payload: %w", p.Kind(), err)
	}
	return Envelope{Kind: p.Kind(), Data: data}, nil
}

// Open decodes the envelope into the registered payload type, or into a
// Document when the kind is unknown.
func (e Envelope) Open() (Payload, error) {
	return Decode(e.Kind, e.Data)
}

// Decode resolves data through the payload registry.
func Decode(kind string, data json.RawMessage) (Payload, error) {
	registryMu.RLock()
	dec, ok := registry[kind]
	registryMu.RUnlock()
	if ok {
		p, err := dec(data)
		if err != nil {
			return nil, fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return p, nil
	}
	var fields map[string]any
	if len(data) > 0 && string(data) != "null" {
		if err := json.Unmarshal(data, &fields); err != nil {
			return nil, fmt.Errorf("decode %s document: %w", kind, err)
		}
	}
	doc := Document{Fields: fields}
	if kind != DocumentKind {
		doc.Type = kind
	}
	return doc, nil
}

// Fields returns a shallow key/value view of any payload. The returned map
// is a copy.
func Fields(p Payload) (map[string]any, error) {
	if p == nil {
		return nil, nil
	}
	if d, ok := p.(Document); ok {
		out := make(map[string]any, len(d.Fields))
		for k, v := range d.Fields {
			out[k] = v
		}
		return out, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("%s payload is not an object: %w", p.Kind(), err)
	}
	return out, nil
}

// As converts p into P. Values of P and *P pass through; any other payload
// is round-tripped through JSON.
func As[P Payload](p Payload) (P, error) {
	var zero P
	switch v := any(p).(type) {
	case P:
		return v, nil
	case *P:
		if v != nil {
			return *v, nil
		}
		return zero, nil
	case nil:
		return zero, nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		return zero, err
	}
	var out P
	if err := json.Unmarshal(data, &out); err != nil {
		return zero, fmt.Errorf("convert %s payload to %s: %w", p.Kind(), zero.Kind(), err)
	}
	return out, nil
}

// ContainsTempID reports whether any value in the payload, at any depth, is
// a temporary identifier.
func ContainsTempID(p Payload) bool {
	fields, err := Fields(p)
	if err != nil {
		return false
	}
	return containsTemp(fields)
}

func containsTemp(v any) bool {
	switch x := v.(type) {
	case string:
		return IsTempID(x) || strings.Contains(x, "/"+TempPrefix)
	case map[string]any:
		for _, e := range x {
			if containsTemp(e) {
				return true
			}
		}
	case []any:
		for _, e := range x {
			if containsTemp(e) {
				return true
			}
		}
	}
	return false
}
