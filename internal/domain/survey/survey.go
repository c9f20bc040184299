// Package survey models survey definitions as ordered item trees and
// validates submitted response maps against them. Definitions are immutable
// once built and safe to share across requests.
package survey

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/mobsense/mobsense/internal/domain/condition"
)

// Kind discriminates the survey item variants.
type Kind string

const (
	// KindPrompt is a respondable question.
	KindPrompt Kind = "prompt"
	// KindMessage is display-only text; it never takes a response.
	KindMessage Kind = "message"
	// KindRepeatableSet groups prompts that may be answered several times.
	KindRepeatableSet Kind = "repeatable_set"
)

// Item is one node of a survey's ordered item tree.
type Item struct {
	ID        string
	Kind      Kind
	Condition string // empty when the item is unconditional
	Index     int    // position among siblings

	Prompt   *Prompt // set when Kind == KindPrompt
	Children []*Item // set when Kind == KindRepeatableSet
	Message  string  // set when Kind == KindMessage
}

// Definition is an immutable survey identified by (ID, Version).
type Definition struct {
	ID      string
	Version int64
	Name    string
	Items   []*Item
}

// definition document shapes, mirroring the upload wire format.
type defDoc struct {
	ID      string    `json:"id"`
	Version int64     `json:"version"`
	Name    string    `json:"name"`
	Items   []itemDoc `json:"items"`
}

type itemDoc struct {
	ID        string   `json:"id"`
	Type      string   `json:"type"`
	Condition string   `json:"condition"`
	Text      string   `json:"text"`
	Skippable bool     `json:"skippable"`
	Min       *float64 `json:"min"`
	Max       *float64 `json:"max"`
	MinLength *int     `json:"min_length"`
	MaxLength *int     `json:"max_length"`
	Choices   []Choice `json:"choices"`
	MaxDim    *int     `json:"max_dimension"`
	MinRuns   *int     `json:"min_runs"`
	Retries   *int     `json:"retries"`
	Items     []itemDoc `json:"items"`
}

const metaSchemaJSON = `{
	"type": "object",
	"required": ["id", "version", "items"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"version": {"type": "integer"},
		"name": {"type": "string"},
		"items": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/item"}}
	},
	"definitions": {
		"item": {
			"type": "object",
			"required": ["id", "type"],
			"properties": {
				"id": {"type": "string", "minLength": 1},
				"type": {"type": "string"},
				"condition": {"type": "string"},
				"text": {"type": "string"},
				"skippable": {"type": "boolean"},
				"min": {"type": "number"},
				"max": {"type": "number"},
				"min_length": {"type": "integer", "minimum": 0},
				"max_length": {"type": "integer", "minimum": 0},
				"choices": {
					"type": "array",
					"items": {
						"type": "object",
						"required": ["key"],
						"properties": {
							"key": {"type": "string", "minLength": 1},
							"label": {"type": "string"}
						}
					}
				},
				"max_dimension": {"type": "integer", "minimum": 0},
				"min_runs": {"type": "integer", "minimum": 0},
				"retries": {"type": "integer", "minimum": 0},
				"items": {"type": "array", "items": {"$ref": "#/definitions/item"}}
			}
		}
	}
}`

var metaSchema = gojsonschema.NewStringLoader(metaSchemaJSON)

// Parse builds a Definition from its JSON document. The document is first
// checked against the definition meta-schema, then each item is built and
// cross-checked: ids must be unique across the tree and conditions may only
// reference respondable items that appear earlier.
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

	b := &defBuilder{ids: make(map[string]struct{})}
	items, err := b.buildItems(doc.Items, nil)
	if err != nil {
		return nil, err
	}

	return &Definition{
		ID:      doc.ID,
		Version: doc.Version,
		Name:    doc.Name,
		Items:   items,
	}, nil
}

type defBuilder struct {
	ids map[string]struct{} // all ids across the tree
}

// buildItems converts item documents, threading the set of respondable ids
// answered before each item so condition references can be checked.
func (b *defBuilder) buildItems(docs []itemDoc, outerPrior map[string]struct{}) ([]*Item, error) {
	prior := make(map[string]struct{}, len(outerPrior))
	for id := range outerPrior {
		prior[id] = struct{}{}
	}

	items := make([]*Item, 0, len(docs))
	for i, doc := range docs {
		if _, dup := b.ids[doc.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate item id %q", ErrInvalidDefinition, doc.ID)
		}
		b.ids[doc.ID] = struct{}{}

		if doc.Condition != "" {
			refs, err := condition.References(doc.Condition)
			if err != nil {
				return nil, fmt.Errorf("%w: item %q: %v", ErrInvalidDefinition, doc.ID, err)
			}
			for _, ref := range refs {
				if _, ok := prior[ref]; !ok {
					return nil, fmt.Errorf("%w: item %q condition references %q, which is not an earlier prompt", ErrInvalidDefinition, doc.ID, ref)
				}
			}
		}

		item := &Item{
			ID:        doc.ID,
			Condition: doc.Condition,
			Index:     i,
		}

		switch doc.Type {
		case "message":
			item.Kind = KindMessage
			item.Message = doc.Text
		case "repeatable_set":
			item.Kind = KindRepeatableSet
			if len(doc.Items) == 0 {
				return nil, fmt.Errorf("%w: repeatable set %q has no items", ErrInvalidDefinition, doc.ID)
			}
			children, err := b.buildItems(doc.Items, prior)
			if err != nil {
				return nil, err
			}
			item.Children = children
		default:
			prompt, err := buildPrompt(doc)
			if err != nil {
				return nil, err
			}
			item.Kind = KindPrompt
			item.Prompt = prompt
			prior[doc.ID] = struct{}{}
		}

		items = append(items, item)
	}
	return items, nil
}

func buildPrompt(doc itemDoc) (*Prompt, error) {
	t := Type(doc.Type)
	if _, ok := valueValidators[t]; !ok {
		return nil, fmt.Errorf("%w: item %q has unknown type %q", ErrInvalidDefinition, doc.ID, doc.Type)
	}

	switch t {
	case TypeSingleChoice, TypeMultiChoice:
		if len(doc.Choices) == 0 {
			return nil, fmt.Errorf("%w: choice prompt %q has no choices", ErrInvalidDefinition, doc.ID)
		}
		keys := make(map[string]struct{}, len(doc.Choices))
		for _, c := range doc.Choices {
			if _, dup := keys[c.Key]; dup {
				return nil, fmt.Errorf("%w: prompt %q repeats choice key %q", ErrInvalidDefinition, doc.ID, c.Key)
			}
			keys[c.Key] = struct{}{}
		}
	case TypeNumber:
		if doc.Min != nil && doc.Max != nil && *doc.Min > *doc.Max {
			return nil, fmt.Errorf("%w: prompt %q has min above max", ErrInvalidDefinition, doc.ID)
		}
	case TypeText:
		if doc.MinLength != nil && doc.MaxLength != nil && *doc.MinLength > *doc.MaxLength {
			return nil, fmt.Errorf("%w: prompt %q has min_length above max_length", ErrInvalidDefinition, doc.ID)
		}
	}

	return &Prompt{
		Type:         t,
		Text:         doc.Text,
		Skippable:    doc.Skippable,
		Min:          doc.Min,
		Max:          doc.Max,
		MinLength:    doc.MinLength,
		MaxLength:    doc.MaxLength,
		Choices:      doc.Choices,
		MaxDimension: doc.MaxDim,
		MinRuns:      doc.MinRuns,
		Retries:      doc.Retries,
	}, nil
}

// ItemIDs returns the ids of all respondable items, in definition order.
func (d *Definition) ItemIDs() []string {
	var ids []string
	var walk func(items []*Item)
	walk = func(items []*Item) {
		for _, item := range items {
			switch item.Kind {
			case KindPrompt, KindRepeatableSet:
				ids = append(ids, item.ID)
			}
			if item.Kind == KindRepeatableSet {
				walk(item.Children)
			}
		}
	}
	walk(d.Items)
	return ids
}
