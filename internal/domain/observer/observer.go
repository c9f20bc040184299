// Package observer models passive-sensing observer definitions: typed data
// streams whose payload shape is described by a declarative schema tree.
// Definitions are immutable once built and safe to share across requests.
package observer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mobsense/mobsense/internal/domain/model"
)

// Stream is one typed channel an observer produces, keyed by (ID, Version).
type Stream struct {
	ID      string
	Version int64
	Name    string
	Schema  *Node

	// RequireLocation demands location metadata on every point.
	RequireLocation bool
}

// Definition is an immutable observer identified by (ID, Version), owning a
// set of stream definitions.
type Definition struct {
	ID      string
	Version int64
	Name    string

	streams map[streamKey]*Stream
}

type streamKey struct {
	id      string
	version int64
}

// Stream looks up a stream definition by id and version.
func (d *Definition) Stream(id string, version int64) (*Stream, error) {
	s, ok := d.streams[streamKey{id, version}]
	if !ok {
		return nil, fmt.Errorf("%w: %s v%d in observer %s", ErrUnknownStream, id, version, d.ID)
	}
	return s, nil
}

// Streams returns all stream definitions, in no particular order.
func (d *Definition) Streams() []*Stream {
	out := make([]*Stream, 0, len(d.streams))
	for _, s := range d.streams {
		out = append(out, s)
	}
	return out
}

// ValidatePoint checks a point's metadata and payload against the stream.
// Metadata must carry a timestamp, since duplicate detection keys on it.
func (s *Stream) ValidatePoint(md model.Metadata, data any) error {
	if md.Timestamp.IsZero() {
		return fmt.Errorf("%w at $.metadata: missing timestamp", ErrSchemaMismatch)
	}
	if s.RequireLocation && md.Location == nil {
		return fmt.Errorf("%w at $.metadata: stream %s requires location", ErrSchemaMismatch, s.ID)
	}
	return s.Schema.Validate(data)
}

type defDoc struct {
	ID      string      `json:"id"`
	Version int64       `json:"version"`
	Name    string      `json:"name"`
	Streams []streamDoc `json:"streams"`
}

type streamDoc struct {
	ID              string   `json:"id"`
	Version         int64    `json:"version"`
	Name            string   `json:"name"`
	Schema          *nodeDoc `json:"schema"`
	RequireLocation bool     `json:"require_location"`
}

type nodeDoc struct {
	Type       string     `json:"type"`
	Fields     []fieldDoc `json:"fields"`
	AllowExtra bool       `json:"allow_extra"`
	Elem       *nodeDoc   `json:"elem"`
	Enum       []string   `json:"enum"`
}

type fieldDoc struct {
	Name     string   `json:"name"`
	Optional bool     `json:"optional"`
	Schema   *nodeDoc `json:"schema"`
}

const metaSchemaJSON = `{
	"type": "object",
	"required": ["id", "version", "streams"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"version": {"type": "integer"},
		"name": {"type": "string"},
		"streams": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "version", "schema"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"version": {"type": "integer"},
					"name": {"type": "string"},
					"require_location": {"type": "boolean"},
					"schema": {"$ref": "#/definitions/node"}
				}
			}
		}
	},
	"definitions": {
		"node": {
			"type": "object",
			"required": ["type"],
			"properties": {
				"type": {"enum": ["object", "array", "string", "number", "integer", "boolean"]},
				"allow_extra": {"type": "boolean"},
				"enum": {"type": "array", "items": {"type": "string"}},
				"elem": {"$ref": "#/definitions/node"},
				"fields": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["name", "schema"],
						"properties": {
							"name": {"type": "string", "minLength": 1},
							"optional": {"type": "boolean"},
							"schema": {"$ref": "#/definitions/node"}
						}
					}
				}
			}
		}
	}
}`

var metaSchema = gojsonschema.NewStringLoader(metaSchemaJSON)

// Parse builds a Definition from its JSON document. The document is first
// checked against the observer meta-schema, then each stream's schema tree
// is built with structural cross-checks the meta-schema cannot express.
func Parse(data []byte) (*Definition, error) {
	result, err := gojsonschema.Validate(metaSchema, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if !result.Valid() {
		var descs []string
		for _, desc := range result.Errors() {
			descs = append(descs, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidDefinition, strings.Join(descs, "; "))
	}

	var doc defDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}

	def := &Definition{
		ID:      doc.ID,
		Version: doc.Version,
		Name:    doc.Name,
		streams: make(map[streamKey]*Stream, len(doc.Streams)),
	}
	for _, sd := range doc.Streams {
		key := streamKey{sd.ID, sd.Version}
		if _, dup := def.streams[key]; dup {
			return nil, fmt.Errorf("%w: duplicate stream %s v%d", ErrInvalidDefinition, sd.ID, sd.Version)
		}
		node, err := buildNode(sd.Schema, sd.ID)
		if err != nil {
			return nil, err
		}
		def.streams[key] = &Stream{
			ID:              sd.ID,
			Version:         sd.Version,
			Name:            sd.Name,
			Schema:          node,
			RequireLocation: sd.RequireLocation,
		}
	}
	return def, nil
}

func buildNode(doc *nodeDoc, streamID string) (*Node, error) {
	node := &Node{
		Type:       doc.Type,
		AllowExtra: doc.AllowExtra,
		Enum:       doc.Enum,
	}

	switch doc.Type {
	case "object":
		if len(doc.Fields) == 0 {
			return nil, fmt.Errorf("%w: stream %q declares an object with no fields", ErrInvalidDefinition, streamID)
		}
		names := make(map[string]struct{}, len(doc.Fields))
		for _, fd := range doc.Fields {
			if _, dup := names[fd.Name]; dup {
				return nil, fmt.Errorf("%w: stream %q repeats field %q", ErrInvalidDefinition, streamID, fd.Name)
			}
			names[fd.Name] = struct{}{}
			child, err := buildNode(fd.Schema, streamID)
			if err != nil {
				return nil, err
			}
			node.Fields = append(node.Fields, Field{Name: fd.Name, Optional: fd.Optional, Schema: child})
		}
	case "array":
		if doc.Elem == nil {
			return nil, fmt.Errorf("%w: stream %q declares an array without an element schema", ErrInvalidDefinition, streamID)
		}
		elem, err := buildNode(doc.Elem, streamID)
		if err != nil {
			return nil, err
		}
		node.Elem = elem
	case "string", "number", "integer", "boolean":
		// scalar, nothing further to build
	default:
		return nil, fmt.Errorf("%w: stream %q uses unknown node type %q", ErrInvalidDefinition, streamID, doc.Type)
	}
	return node, nil
}
