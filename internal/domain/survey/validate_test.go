package survey_test

import (
	"testing"

	"github.com/google/uuid"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/mobsense/mobsense/internal/domain/condition"
	"github.com/mobsense/mobsense/internal/domain/model"
	"github.com/mobsense/mobsense/internal/domain/survey"
)

// mustParse builds a definition from its JSON document or fails the test.
func mustParse(doc string) *survey.Definition {
	def, err := survey.Parse([]byte(doc))
	So(err, ShouldBeNil)
	return def
}

const conditionalSurvey = `{
	"id": "mood_checkin",
	"version": 1,
	"name": "Mood check-in",
	"items": [
		{"id": "p1", "type": "number", "text": "Rate your day", "min": 0, "max": 10},
		{"id": "p2", "type": "text", "text": "Why?", "condition": "p1 > 5"}
	]
}`

func TestDefinitionValidate(t *testing.T) {
	Convey("Given a survey with a conditional prompt", t, func() {
		def := mustParse(conditionalSurvey)

		Convey("When both prompts are answered and the condition holds", func() {
			checked, err := def.Validate(map[string]any{"p1": 7.0, "p2": "hello"})

			Convey("Then validation succeeds with both canonical values", func() {
				So(err, ShouldBeNil)
				So(checked, ShouldHaveLength, 2)
				So(checked["p1"], ShouldEqual, 7.0)
				So(checked["p2"], ShouldEqual, "hello")
			})
		})

		Convey("When the condition is false and the conditional prompt is omitted", func() {
			checked, err := def.Validate(map[string]any{"p1": 3.0})

			Convey("Then validation succeeds and the prompt reads NOT_DISPLAYED", func() {
				So(err, ShouldBeNil)
				So(checked["p1"], ShouldEqual, 3.0)
				So(checked["p2"], ShouldEqual, model.NotDisplayed)
			})
		})

		Convey("When the condition is false but a conforming response is present", func() {
			// Policy: a present response under a false condition is still
			// type-checked and accepted.
			checked, err := def.Validate(map[string]any{"p1": 3.0, "p2": "hello"})

			So(err, ShouldBeNil)
			So(checked["p2"], ShouldEqual, "hello")
		})

		Convey("When the condition is false and a malformed response is present", func() {
			_, err := def.Validate(map[string]any{"p1": 3.0, "p2": 12.5})

			Convey("Then the present value is still type-checked", func() {
				So(err, ShouldWrap, survey.ErrInvalidValue)
			})
		})

		Convey("When a mandatory prompt has no response", func() {
			_, err := def.Validate(map[string]any{"p2": "hello"})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})

		Convey("When the response map has keys outside the survey", func() {
			_, err := def.Validate(map[string]any{"p1": 7.0, "p2": "hi", "zz": 1})
			So(err, ShouldWrap, survey.ErrUnexpectedResponse)
		})

		Convey("When a value violates its numeric bounds", func() {
			_, err := def.Validate(map[string]any{"p1": 12.0, "p2": "hi"})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})

		Convey("When validating the same responses twice", func() {
			responses := map[string]any{"p1": 7.0, "p2": "hello"}
			first, errA := def.Validate(responses)
			second, errB := def.Validate(responses)

			Convey("Then both passes agree", func() {
				So(errA, ShouldBeNil)
				So(errB, ShouldBeNil)
				So(second, ShouldResemble, first)
			})
		})
	})

	Convey("Given a survey with skippable and message items", t, func() {
		def := mustParse(`{
			"id": "s", "version": 1,
			"items": [
				{"id": "intro", "type": "message", "text": "welcome"},
				{"id": "q1", "type": "text", "skippable": true},
				{"id": "q2", "type": "single_choice", "choices": [{"key": "yes"}, {"key": "no"}]}
			]
		}`)

		Convey("When the skippable prompt is explicitly skipped", func() {
			checked, err := def.Validate(map[string]any{"q1": "SKIPPED", "q2": "yes"})
			So(err, ShouldBeNil)
			So(checked["q1"], ShouldEqual, model.Skipped)
		})

		Convey("When a non-skippable prompt is skipped", func() {
			_, err := def.Validate(map[string]any{"q1": "ok", "q2": "SKIPPED"})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})

		Convey("When a platform sentinel arrives for a non-skippable prompt", func() {
			checked, err := def.Validate(map[string]any{"q1": "ok", "q2": "PROMPT_NOT_ENABLED"})

			Convey("Then non-skip sentinels are always accepted", func() {
				So(err, ShouldBeNil)
				So(checked["q2"], ShouldEqual, model.PromptNotEnabled)
			})
		})

		Convey("When a response targets the message item", func() {
			_, err := def.Validate(map[string]any{"intro": "hi", "q1": "ok", "q2": "yes"})
			So(err, ShouldWrap, survey.ErrUnexpectedResponse)
		})

		Convey("When an unknown choice key is selected", func() {
			_, err := def.Validate(map[string]any{"q1": "ok", "q2": "maybe"})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})
	})

	Convey("Given a survey with a repeatable set", t, func() {
		def := mustParse(`{
			"id": "meals", "version": 2,
			"items": [
				{"id": "ate", "type": "single_choice", "choices": [{"key": "yes"}, {"key": "no"}]},
				{"id": "meal", "type": "repeatable_set", "condition": "ate == yes", "items": [
					{"id": "dish", "type": "text"},
					{"id": "rating", "type": "number", "min": 1, "max": 5}
				]}
			]
		}`)

		Convey("When two iterations are submitted", func() {
			checked, err := def.Validate(map[string]any{
				"ate": "yes",
				"meal": []any{
					map[string]any{"dish": "soup", "rating": 4.0},
					map[string]any{"dish": "pasta", "rating": 5.0},
				},
			})

			Convey("Then each iteration is validated recursively", func() {
				So(err, ShouldBeNil)
				iterations, ok := checked["meal"].([]map[string]any)
				So(ok, ShouldBeTrue)
				So(iterations, ShouldHaveLength, 2)
				So(iterations[0]["dish"], ShouldEqual, "soup")
				So(iterations[1]["rating"], ShouldEqual, 5.0)
			})
		})

		Convey("When the set is enabled but absent", func() {
			checked, err := def.Validate(map[string]any{"ate": "yes"})

			Convey("Then zero iterations is a legal answer", func() {
				So(err, ShouldBeNil)
				So(checked["meal"], ShouldResemble, []map[string]any{})
			})
		})

		Convey("When an iteration violates a child constraint", func() {
			_, err := def.Validate(map[string]any{
				"ate":  "yes",
				"meal": []any{map[string]any{"dish": "soup", "rating": 9.0}},
			})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})

		Convey("When an iteration carries a key outside the set", func() {
			_, err := def.Validate(map[string]any{
				"ate":  "yes",
				"meal": []any{map[string]any{"dish": "soup", "rating": 4.0, "zz": 1}},
			})
			So(err, ShouldWrap, survey.ErrUnexpectedResponse)
		})

		Convey("When an empty iteration appears in the list", func() {
			checked, err := def.Validate(map[string]any{
				"ate":  "yes",
				"meal": []any{map[string]any{}},
			})

			Convey("Then it is treated as absent", func() {
				So(err, ShouldBeNil)
				So(checked["meal"], ShouldResemble, []map[string]any{})
			})
		})
	})
}

func TestPromptValidateValue(t *testing.T) {
	Convey("Given a photo prompt", t, func() {
		def := mustParse(`{
			"id": "pics", "version": 1,
			"items": [{"id": "photo1", "type": "photo", "max_dimension": 1024}]
		}`)

		Convey("When the response is a media UUID string", func() {
			ref := uuid.New()
			checked, err := def.Validate(map[string]any{"photo1": ref.String()})

			Convey("Then the canonical value is the parsed UUID", func() {
				So(err, ShouldBeNil)
				So(checked["photo1"], ShouldResemble, ref)
			})

			Convey("Then serializing the canonical value round-trips", func() {
				So(err, ShouldBeNil)
				id := checked["photo1"].(uuid.UUID)
				So(id.String(), ShouldEqual, ref.String())
			})
		})

		Convey("When the media bytes never arrived", func() {
			checked, err := def.Validate(map[string]any{"photo1": "MEDIA_NOT_UPLOADED"})
			So(err, ShouldBeNil)
			So(checked["photo1"], ShouldEqual, model.MediaNotUploaded)
		})

		Convey("When the response is not a UUID", func() {
			_, err := def.Validate(map[string]any{"photo1": "not-a-uuid"})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})
	})

	Convey("Given a remote activity prompt", t, func() {
		def := mustParse(`{
			"id": "games", "version": 1,
			"items": [{"id": "act", "type": "remote_activity", "min_runs": 2}]
		}`)

		Convey("When enough runs with scores are reported", func() {
			checked, err := def.Validate(map[string]any{
				"act": []any{
					map[string]any{"score": 0.8},
					map[string]any{"score": 0.9, "duration": 12},
				},
			})
			So(err, ShouldBeNil)
			So(checked["act"], ShouldResemble, []float64{0.8, 0.9})
		})

		Convey("When too few runs are reported", func() {
			_, err := def.Validate(map[string]any{
				"act": []any{map[string]any{"score": 0.8}},
			})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})

		Convey("When more runs than the retries allow are reported", func() {
			capped := mustParse(`{
				"id": "games2", "version": 1,
				"items": [{"id": "act", "type": "remote_activity", "retries": 1}]
			}`)

			// one initial run plus one retry is the ceiling
			checked, err := capped.Validate(map[string]any{
				"act": []any{map[string]any{"score": 0.8}, map[string]any{"score": 0.9}},
			})
			So(err, ShouldBeNil)
			So(checked["act"], ShouldResemble, []float64{0.8, 0.9})

			_, err = capped.Validate(map[string]any{
				"act": []any{
					map[string]any{"score": 0.8},
					map[string]any{"score": 0.9},
					map[string]any{"score": 1.0},
				},
			})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})

		Convey("When a run has no score", func() {
			_, err := def.Validate(map[string]any{
				"act": []any{map[string]any{"duration": 1}, map[string]any{"score": 0.5}},
			})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})
	})

	Convey("Given a multi-choice prompt", t, func() {
		def := mustParse(`{
			"id": "s", "version": 1,
			"items": [{"id": "m", "type": "multi_choice",
				"choices": [{"key": "a"}, {"key": "b"}, {"key": "c"}]}]
		}`)

		Convey("When a subset of keys is selected", func() {
			checked, err := def.Validate(map[string]any{"m": []any{"a", "c"}})
			So(err, ShouldBeNil)
			So(checked["m"], ShouldResemble, []string{"a", "c"})
		})

		Convey("When a key is selected twice", func() {
			_, err := def.Validate(map[string]any{"m": []any{"a", "a"}})
			So(err, ShouldWrap, survey.ErrInvalidValue)
		})
	})
}

func TestParse(t *testing.T) {
	Convey("Given survey definition documents", t, func() {
		Convey("When an item id repeats", func() {
			_, err := survey.Parse([]byte(`{
				"id": "s", "version": 1,
				"items": [
					{"id": "a", "type": "text"},
					{"id": "a", "type": "number"}
				]
			}`))
			So(err, ShouldWrap, survey.ErrInvalidDefinition)
		})

		Convey("When a condition references a later prompt", func() {
			_, err := survey.Parse([]byte(`{
				"id": "s", "version": 1,
				"items": [
					{"id": "a", "type": "text", "condition": "b == yes"},
					{"id": "b", "type": "single_choice", "choices": [{"key": "yes"}]}
				]
			}`))
			So(err, ShouldWrap, survey.ErrInvalidDefinition)
		})

		Convey("When a condition references the item itself", func() {
			_, err := survey.Parse([]byte(`{
				"id": "s", "version": 1,
				"items": [{"id": "a", "type": "number", "condition": "a > 1"}]
			}`))
			So(err, ShouldWrap, survey.ErrInvalidDefinition)
		})

		Convey("When a condition is syntactically broken", func() {
			_, err := survey.Parse([]byte(`{
				"id": "s", "version": 1,
				"items": [
					{"id": "a", "type": "number"},
					{"id": "b", "type": "text", "condition": "a >"}
				]
			}`))
			So(err, ShouldWrap, survey.ErrInvalidDefinition)
		})

		Convey("When the document misses required fields", func() {
			_, err := survey.Parse([]byte(`{"version": 1}`))
			So(err, ShouldWrap, survey.ErrInvalidDefinition)
		})

		Convey("When a choice prompt has no choices", func() {
			_, err := survey.Parse([]byte(`{
				"id": "s", "version": 1,
				"items": [{"id": "a", "type": "single_choice"}]
			}`))
			So(err, ShouldWrap, survey.ErrInvalidDefinition)
		})

		Convey("When the document is valid", func() {
			def := mustParse(conditionalSurvey)

			Convey("Then item ids come back in definition order", func() {
				So(def.ItemIDs(), ShouldResemble, []string{"p1", "p2"})
				So(def.ID, ShouldEqual, "mood_checkin")
				So(def.Version, ShouldEqual, 1)
			})
		})

		Convey("When conditions reference repeatable set siblings", func() {
			// A child may reference an earlier child in the same set.
			_, err := survey.Parse([]byte(`{
				"id": "s", "version": 1,
				"items": [{"id": "rs", "type": "repeatable_set", "items": [
					{"id": "x", "type": "number"},
					{"id": "y", "type": "text", "condition": "x > 0"}
				]}]
			}`))
			So(err, ShouldBeNil)
		})
	})
}

func TestConditionReferences(t *testing.T) {
	Convey("Given a compound condition", t, func() {
		refs, err := condition.References("p1 > 5 AND (p2 == happy OR p1 < 2)")

		Convey("Then each referenced id is reported once", func() {
			So(err, ShouldBeNil)
			So(refs, ShouldResemble, []string{"p1", "p2"})
		})
	})
}
