package survey

import (
	"fmt"
	"sort"
	"strings"

	"github.com/mobsense/mobsense/internal/domain/condition"
	"github.com/mobsense/mobsense/internal/domain/model"
)

// Validate walks the survey in definition order and checks responses against
// it. On success it returns the map of canonical checked responses keyed by
// item id. Validation is fail-fast: the first offending value aborts the
// walk.
//
// An item whose condition evaluates false is not required; a missing
// response is recorded as NOT_DISPLAYED, while a present response is still
// type-checked and, if it conforms, accepted. Conditions may only reference
// items already walked, so the checked map doubles as the condition scope.
func (d *Definition) Validate(responses map[string]any) (map[string]any, error) {
	checked := make(map[string]any, len(d.Items))
	scope := make(map[string]any, len(d.Items))
	if err := walkItems(d.Items, responses, checked, scope); err != nil {
		return nil, err
	}
	if extra := extraKeys(responses, checked); len(extra) > 0 {
		return nil, fmt.Errorf("%w: keys not in survey: %s", ErrUnexpectedResponse, strings.Join(extra, ", "))
	}
	return checked, nil
}

// walkItems validates one level of the item tree. checked accumulates the
// canonical values used for extra-key accounting at this level; scope is the
// condition lookup and, inside a repeatable set iteration, additionally
// carries the enclosing levels' values.
func walkItems(items []*Item, responses, checked, scope map[string]any) error {
	record := func(id string, v any) {
		checked[id] = v
		scope[id] = v
	}

	for _, item := range items {
		enabled := true
		if item.Condition != "" {
			var err error
			enabled, err = condition.Evaluate(item.Condition, scope)
			if err != nil {
				return err
			}
		}

		raw, present := responses[item.ID]

		switch item.Kind {
		case KindMessage:
			// Not respondable; a submitted value surfaces as an extra key.
			continue

		case KindPrompt:
			if !present {
				if enabled {
					return fmt.Errorf("%w: prompt %q has no response", ErrInvalidValue, item.ID)
				}
				record(item.ID, model.NotDisplayed)
				continue
			}
			v, err := item.Prompt.ValidateValue(item.ID, raw)
			if err != nil {
				return err
			}
			record(item.ID, v)

		case KindRepeatableSet:
			if !present {
				if enabled {
					// Zero iterations is a legal answer.
					record(item.ID, []map[string]any{})
				} else {
					record(item.ID, model.NotDisplayed)
				}
				continue
			}
			canon, err := validateIterations(item, raw, scope)
			if err != nil {
				return err
			}
			record(item.ID, canon)
		}
	}
	return nil
}

func validateIterations(item *Item, raw any, scope map[string]any) ([]map[string]any, error) {
	iterations, err := asIterations(item.ID, raw)
	if err != nil {
		return nil, err
	}

	canon := make([]map[string]any, 0, len(iterations))
	for idx, iterResp := range iterations {
		if len(iterResp) == 0 {
			// An iteration with no responses at all is treated as absent.
			continue
		}
		iterChecked := make(map[string]any, len(item.Children))
		iterScope := make(map[string]any, len(scope)+len(item.Children))
		for k, v := range scope {
			iterScope[k] = v
		}
		if err := walkItems(item.Children, iterResp, iterChecked, iterScope); err != nil {
			return nil, fmt.Errorf("repeatable set %q iteration %d: %w", item.ID, idx, err)
		}
		if extra := extraKeys(iterResp, iterChecked); len(extra) > 0 {
			return nil, fmt.Errorf("%w: repeatable set %q iteration %d has keys not in the set: %s",
				ErrUnexpectedResponse, item.ID, idx, strings.Join(extra, ", "))
		}
		canon = append(canon, iterChecked)
	}
	return canon, nil
}

func asIterations(itemID string, raw any) ([]map[string]any, error) {
	switch v := raw.(type) {
	case []map[string]any:
		return v, nil
	case []any:
		iterations := make([]map[string]any, 0, len(v))
		for i, e := range v {
			m, ok := e.(map[string]any)
			if !ok {
				return nil, fmt.Errorf("%w: repeatable set %q iteration %d is not an object", ErrInvalidValue, itemID, i)
			}
			iterations = append(iterations, m)
		}
		return iterations, nil
	}
	return nil, fmt.Errorf("%w: repeatable set %q expects a list of iterations, got %T", ErrInvalidValue, itemID, raw)
}

func extraKeys(responses, checked map[string]any) []string {
	var extra []string
	for k := range responses {
		if _, ok := checked[k]; !ok {
			extra = append(extra, k)
		}
	}
	sort.Strings(extra)
	return extra
}
