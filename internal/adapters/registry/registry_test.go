package registry_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mobsense/mobsense/internal/adapters/registry"
	"github.com/mobsense/mobsense/internal/adapters/repository"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
)

// countingSource wraps a DefinitionSource and counts lookups.
type countingSource struct {
	inner     repository.DefinitionSource
	mu        sync.Mutex
	observers int
	surveys   int
}

func (c *countingSource) ObserverDefinition(ctx context.Context, id string, version int64) (*observer.Definition, error) {
	c.mu.Lock()
	c.observers++
	c.mu.Unlock()
	return c.inner.ObserverDefinition(ctx, id, version)
}

func (c *countingSource) SurveyDefinition(ctx context.Context, id string, version int64) (*survey.Definition, error) {
	c.mu.Lock()
	c.surveys++
	c.mu.Unlock()
	return c.inner.SurveyDefinition(ctx, id, version)
}

const testObserverDoc = `{
	"id": "org.mobsense.mobility",
	"version": 1,
	"streams": [
		{
			"id": "speed",
			"version": 1,
			"schema": {
				"type": "object",
				"fields": [{"name": "speed", "schema": {"type": "number"}}]
			}
		}
	]
}`

const testSurveyDoc = `{
	"id": "daily_mood",
	"version": 2,
	"items": [
		{"id": "mood", "type": "number", "min": 0, "max": 10}
	]
}`

func TestRegistry(t *testing.T) {
	Convey("Given a registry over a counting source", t, func() {
		ctx := context.Background()
		store := repository.NewMemory()
		_, err := store.RegisterObserverDefinition(ctx, []byte(testObserverDoc))
		So(err, ShouldBeNil)
		_, err = store.RegisterSurveyDefinition(ctx, []byte(testSurveyDoc))
		So(err, ShouldBeNil)

		source := &countingSource{inner: store}
		reg := registry.New(source)

		Convey("When the same observer definition is fetched twice", func() {
			first, err1 := reg.ObserverDefinition(ctx, "org.mobsense.mobility", 1)
			second, err2 := reg.ObserverDefinition(ctx, "org.mobsense.mobility", 1)

			Convey("Then the source is hit only once", func() {
				So(err1, ShouldBeNil)
				So(err2, ShouldBeNil)
				So(first, ShouldEqual, second)
				So(source.observers, ShouldEqual, 1)
			})
		})

		Convey("When the same survey definition is fetched twice", func() {
			_, err1 := reg.SurveyDefinition(ctx, "daily_mood", 2)
			_, err2 := reg.SurveyDefinition(ctx, "daily_mood", 2)

			So(err1, ShouldBeNil)
			So(err2, ShouldBeNil)
			So(source.surveys, ShouldEqual, 1)
		})

		Convey("When a definition is missing", func() {
			_, err := reg.ObserverDefinition(ctx, "org.mobsense.mobility", 9)

			Convey("Then the miss is not cached", func() {
				So(err, ShouldWrap, repository.ErrNotFound)
				_, err = reg.ObserverDefinition(ctx, "org.mobsense.mobility", 9)
				So(err, ShouldWrap, repository.ErrNotFound)
				So(source.observers, ShouldEqual, 2)
			})
		})

		Convey("When distinct versions are fetched", func() {
			_, err := reg.SurveyDefinition(ctx, "daily_mood", 2)
			So(err, ShouldBeNil)

			observers, surveys := reg.Sizes()
			So(observers, ShouldEqual, 0)
			So(surveys, ShouldEqual, 1)
		})
	})
}

func TestPreferences(t *testing.T) {
	Convey("Given a preference cache with a fake clock", t, func() {
		ctx := context.Background()
		now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
		loads := 0
		values := map[string]string{"upload.max_batch_points": "500"}

		source := registry.PreferenceSourceFunc(func(context.Context) (map[string]string, error) {
			loads++
			out := make(map[string]string, len(values))
			for k, v := range values {
				out[k] = v
			}
			return out, nil
		})
		prefs := registry.NewPreferences(source,
			registry.WithTTL(time.Minute),
			registry.WithClock(func() time.Time { return now }),
		)

		Convey("When reading before the TTL expires", func() {
			v, ok, err := prefs.Get(ctx, "upload.max_batch_points")
			So(err, ShouldBeNil)
			So(ok, ShouldBeTrue)
			So(v, ShouldEqual, "500")

			now = now.Add(30 * time.Second)
			_, _, err = prefs.Get(ctx, "upload.max_batch_points")
			So(err, ShouldBeNil)

			Convey("Then the source is loaded once", func() {
				So(loads, ShouldEqual, 1)
			})
		})

		Convey("When the TTL expires", func() {
			_, _, err := prefs.Get(ctx, "upload.max_batch_points")
			So(err, ShouldBeNil)

			values["upload.max_batch_points"] = "1000"
			now = now.Add(2 * time.Minute)

			v, ok, err := prefs.Get(ctx, "upload.max_batch_points")

			Convey("Then the snapshot is refreshed", func() {
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, "1000")
				So(loads, ShouldEqual, 2)
			})
		})

		Convey("When a refresh fails after a successful load", func() {
			calls := 0
			flaky := registry.PreferenceSourceFunc(func(context.Context) (map[string]string, error) {
				calls++
				if calls > 1 {
					return nil, errors.New("backend down")
				}
				return map[string]string{"upload.max_batch_points": "500"}, nil
			})
			stale := registry.NewPreferences(flaky,
				registry.WithTTL(time.Minute),
				registry.WithClock(func() time.Time { return now }),
			)
			_, _, err := stale.Get(ctx, "upload.max_batch_points")
			So(err, ShouldBeNil)

			Convey("Then the stale value keeps serving", func() {
				now = now.Add(2 * time.Minute)
				v, ok, err := stale.Get(ctx, "upload.max_batch_points")
				So(err, ShouldBeNil)
				So(ok, ShouldBeTrue)
				So(v, ShouldEqual, "500")
				So(calls, ShouldEqual, 2)
			})
		})

		Convey("When a key is unset", func() {
			v := prefs.GetDefault(ctx, "upload.preserve_invalid", "false")
			So(v, ShouldEqual, "false")
		})

		Convey("When the initial load fails", func() {
			failing := registry.PreferenceSourceFunc(func(context.Context) (map[string]string, error) {
				return nil, errors.New("backend down")
			})
			broken := registry.NewPreferences(failing,
				registry.WithClock(func() time.Time { return now }),
			)

			_, _, err := broken.Get(ctx, "anything")
			So(err, ShouldNotBeNil)
			So(broken.GetDefault(ctx, "anything", "fallback"), ShouldEqual, "fallback")
		})
	})
}
