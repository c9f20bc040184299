package survey

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mobsense/mobsense/internal/domain/model"
)

// Type names a prompt variant. The set is closed; validation dispatches
// through valueValidators rather than virtual methods.
type Type string

const (
	TypeText           Type = "text"
	TypeNumber         Type = "number"
	TypeSingleChoice   Type = "single_choice"
	TypeMultiChoice    Type = "multi_choice"
	TypePhoto          Type = "photo"
	TypeTimestamp      Type = "timestamp"
	TypeRemoteActivity Type = "remote_activity"
)

// Choice is one selectable option of a choice prompt.
type Choice struct {
	Key   string `json:"key"`
	Label string `json:"label,omitempty"`
}

// Prompt is the respondable variant of a survey item. Only the fields
// relevant to its Type are set.
type Prompt struct {
	Type      Type
	Text      string
	Skippable bool

	// number
	Min *float64
	Max *float64

	// text
	MinLength *int
	MaxLength *int

	// single_choice / multi_choice
	Choices []Choice

	// photo: a metadata constraint on the uploaded image, never on the
	// response value itself (which is always a reference UUID).
	MaxDimension *int

	// remote_activity
	MinRuns *int
	Retries *int
}

// valueValidator coerces a raw response value to its canonical form or
// reports why it cannot.
type valueValidator func(p *Prompt, itemID string, raw any) (any, error)

var valueValidators = map[Type]valueValidator{
	TypeText:           validateText,
	TypeNumber:         validateNumber,
	TypeSingleChoice:   validateSingleChoice,
	TypeMultiChoice:    validateMultiChoice,
	TypePhoto:          validatePhoto,
	TypeTimestamp:      validateTimestamp,
	TypeRemoteActivity: validateRemoteActivity,
}

// ValidateValue checks a raw submitted value against the prompt and returns
// its canonical representation. A NoResponse sentinel (either typed or as
// its string name) is accepted as-is, except that SKIPPED requires the
// prompt to be skippable.
func (p *Prompt) ValidateValue(itemID string, raw any) (any, error) {
	if nr, ok := decodeNoResponse(raw); ok {
		if nr == model.Skipped && !p.Skippable {
			return nil, fmt.Errorf("%w: prompt %q was skipped but is not skippable", ErrInvalidValue, itemID)
		}
		return nr, nil
	}

	validate, ok := valueValidators[p.Type]
	if !ok {
		return nil, fmt.Errorf("%w: prompt %q has unknown type %q", ErrInvalidValue, itemID, p.Type)
	}
	return validate(p, itemID, raw)
}

func decodeNoResponse(raw any) (model.NoResponse, bool) {
	if nr, ok := raw.(model.NoResponse); ok {
		return nr, true
	}
	if s, ok := raw.(string); ok {
		return model.ParseNoResponse(s)
	}
	return "", false
}

func validateText(p *Prompt, itemID string, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: prompt %q expects a string, got %T", ErrInvalidValue, itemID, raw)
	}
	if p.MinLength != nil && len(s) < *p.MinLength {
		return nil, fmt.Errorf("%w: prompt %q response is shorter than %d", ErrInvalidValue, itemID, *p.MinLength)
	}
	if p.MaxLength != nil && len(s) > *p.MaxLength {
		return nil, fmt.Errorf("%w: prompt %q response is longer than %d", ErrInvalidValue, itemID, *p.MaxLength)
	}
	return s, nil
}

func validateNumber(p *Prompt, itemID string, raw any) (any, error) {
	n, ok := toFloat(raw)
	if !ok {
		return nil, fmt.Errorf("%w: prompt %q expects a number, got %T", ErrInvalidValue, itemID, raw)
	}
	if p.Min != nil && n < *p.Min {
		return nil, fmt.Errorf("%w: prompt %q response %v is below minimum %v", ErrInvalidValue, itemID, n, *p.Min)
	}
	if p.Max != nil && n > *p.Max {
		return nil, fmt.Errorf("%w: prompt %q response %v is above maximum %v", ErrInvalidValue, itemID, n, *p.Max)
	}
	return n, nil
}

func validateSingleChoice(p *Prompt, itemID string, raw any) (any, error) {
	key, ok := raw.(string)
	if !ok {
		return nil, fmt.Errorf("%w: prompt %q expects a choice key, got %T", ErrInvalidValue, itemID, raw)
	}
	if !p.hasChoice(key) {
		return nil, fmt.Errorf("%w: prompt %q has no choice %q", ErrInvalidValue, itemID, key)
	}
	return key, nil
}

func validateMultiChoice(p *Prompt, itemID string, raw any) (any, error) {
	var keys []string
	switch v := raw.(type) {
	case []string:
		keys = v
	case []any:
		for _, e := range v {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: prompt %q expects choice keys, got %T element", ErrInvalidValue, itemID, e)
			}
			keys = append(keys, s)
		}
	default:
		return nil, fmt.Errorf("%w: prompt %q expects a list of choice keys, got %T", ErrInvalidValue, itemID, raw)
	}

	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if !p.hasChoice(key) {
			return nil, fmt.Errorf("%w: prompt %q has no choice %q", ErrInvalidValue, itemID, key)
		}
		if _, dup := seen[key]; dup {
			return nil, fmt.Errorf("%w: prompt %q selects choice %q twice", ErrInvalidValue, itemID, key)
		}
		seen[key] = struct{}{}
	}
	return keys, nil
}

// validatePhoto accepts only a reference identifier; image bytes travel out
// of band and MaxDimension constrains the media, not this value.
func validatePhoto(_ *Prompt, itemID string, raw any) (any, error) {
	switch v := raw.(type) {
	case uuid.UUID:
		return v, nil
	case string:
		id, err := uuid.Parse(v)
		if err != nil {
			return nil, fmt.Errorf("%w: prompt %q response is not a media UUID: %q", ErrInvalidValue, itemID, v)
		}
		return id, nil
	}
	return nil, fmt.Errorf("%w: prompt %q expects a media UUID, got %T", ErrInvalidValue, itemID, raw)
}

func validateTimestamp(_ *Prompt, itemID string, raw any) (any, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		ts, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return nil, fmt.Errorf("%w: prompt %q response is not an RFC3339 timestamp: %q", ErrInvalidValue, itemID, v)
		}
		return ts.UTC(), nil
	}
	return nil, fmt.Errorf("%w: prompt %q expects a timestamp, got %T", ErrInvalidValue, itemID, raw)
}

// validateRemoteActivity expects the runs reported by the activity: a list
// of objects each carrying a numeric score. Canonical form is the scores.
func validateRemoteActivity(p *Prompt, itemID string, raw any) (any, error) {
	runs, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: prompt %q expects a list of activity runs, got %T", ErrInvalidValue, itemID, raw)
	}
	scores := make([]float64, 0, len(runs))
	for i, run := range runs {
		obj, ok := run.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: prompt %q run %d is not an object", ErrInvalidValue, itemID, i)
		}
		score, ok := toFloat(obj["score"])
		if !ok {
			return nil, fmt.Errorf("%w: prompt %q run %d has no numeric score", ErrInvalidValue, itemID, i)
		}
		scores = append(scores, score)
	}
	if p.MinRuns != nil && len(scores) < *p.MinRuns {
		return nil, fmt.Errorf("%w: prompt %q reported %d runs, fewer than %d", ErrInvalidValue, itemID, len(scores), *p.MinRuns)
	}
	// Retries bounds the attempts beyond the first, so at most retries+1 runs.
	if p.Retries != nil && len(scores) > *p.Retries+1 {
		return nil, fmt.Errorf("%w: prompt %q reported %d runs, more than %d retries allow", ErrInvalidValue, itemID, len(scores), *p.Retries)
	}
	return scores, nil
}

func (p *Prompt) hasChoice(key string) bool {
	for _, c := range p.Choices {
		if c.Key == key {
			return true
		}
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
