package api_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/mobsense/mobsense/internal/adapters/http/api"
	"github.com/mobsense/mobsense/internal/adapters/repository"
	"github.com/mobsense/mobsense/internal/domain/model"
	"github.com/mobsense/mobsense/internal/domain/observer"
	"github.com/mobsense/mobsense/internal/domain/survey"
	"github.com/mobsense/mobsense/internal/domain/upload"
)

const observerDoc = `{
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

const surveyDoc = `{
	"id": "daily_mood",
	"version": 1,
	"items": [
		{"id": "mood", "type": "number", "min": 0, "max": 10}
	]
}`

// testDeps bundles the pipeline and store into the handler dependency set.
type testDeps struct {
	pipeline *upload.Pipeline
	store    *repository.Memory
}

func (d *testDeps) UploadStream(ctx context.Context, req upload.StreamRequest) (*model.UploadSummary, error) {
	return d.pipeline.UploadStream(ctx, req)
}

func (d *testDeps) UploadSurvey(ctx context.Context, req upload.SurveyRequest) (*model.UploadSummary, error) {
	return d.pipeline.UploadSurvey(ctx, req)
}

func (d *testDeps) RegisterObserverDefinition(ctx context.Context, doc []byte) (*observer.Definition, error) {
	return d.store.RegisterObserverDefinition(ctx, doc)
}

func (d *testDeps) RegisterSurveyDefinition(ctx context.Context, doc []byte) (*survey.Definition, error) {
	return d.store.RegisterSurveyDefinition(ctx, doc)
}

type testStats struct{}

func (testStats) GetStats() map[string]interface{} {
	return map[string]interface{}{"status": "running"}
}

func newTestServer(t *testing.T) (*httptest.Server, *repository.Memory) {
	t.Helper()
	ctx := context.Background()

	store := repository.NewMemory()
	if _, err := store.RegisterObserverDefinition(ctx, []byte(observerDoc)); err != nil {
		t.Fatal(err)
	}
	if _, err := store.RegisterSurveyDefinition(ctx, []byte(surveyDoc)); err != nil {
		t.Fatal(err)
	}

	deps := &testDeps{
		pipeline: upload.New(store, store, store),
		store:    store,
	}

	mux := http.NewServeMux()
	api.NewServer(deps, testStats{}).Register(ctx, mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, store
}

func decodeSummary(t *testing.T, resp *http.Response) model.UploadSummary {
	t.Helper()
	var summary model.UploadSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatal(err)
	}
	return summary
}

func TestStreamUploadEndpoint(t *testing.T) {
	Convey("Given a running API server", t, func() {
		srv, store := newTestServer(t)
		uploadURL := srv.URL + "/uploads/stream?owner_id=user-1&observer_id=org.mobsense.mobility&observer_version=1"

		Convey("When posting a valid stream batch", func() {
			body := `[{"stream_id": "speed", "stream_version": 1, "metadata": {"timestamp": "2026-08-01T12:00:00Z"}, "data": {"speed": 3.5}}]`
			resp, err := http.Post(uploadURL, "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the summary reports the stored point", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				summary := decodeSummary(t, resp)
				So(summary.ValidCount, ShouldEqual, 1)
				So(summary.DuplicateCount, ShouldEqual, 0)
				So(summary.InvalidPoints, ShouldBeEmpty)
				So(store.Points("user-1", "org.mobsense.mobility"), ShouldHaveLength, 1)
			})
		})

		Convey("When posting a batch with an invalid point", func() {
			body := `[{"stream_id": "speed", "stream_version": 1, "metadata": {"timestamp": "2026-08-01T12:00:00Z"}, "data": {"speed": "fast"}}]`
			resp, err := http.Post(uploadURL, "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the invalid point is itemized in the response", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				summary := decodeSummary(t, resp)
				So(summary.ValidCount, ShouldEqual, 0)
				So(summary.InvalidPoints, ShouldHaveLength, 1)
				So(summary.InvalidPoints[0].Index, ShouldEqual, 0)
				So(summary.InvalidPoints[0].Persisted, ShouldBeFalse)
			})
		})

		Convey("When posting a malformed body", func() {
			resp, err := http.Post(uploadURL, "application/json", strings.NewReader(`{"not": "an array"}`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the observer does not exist", func() {
			url := srv.URL + "/uploads/stream?owner_id=user-1&observer_id=nope&observer_version=1"
			resp, err := http.Post(url, "application/json", strings.NewReader(`[]`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})

		Convey("When required parameters are missing", func() {
			resp, err := http.Post(srv.URL+"/uploads/stream?owner_id=user-1", "application/json", strings.NewReader(`[]`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When using a non-POST method", func() {
			resp, err := http.Get(uploadURL)
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestSurveyUploadEndpoint(t *testing.T) {
	Convey("Given a running API server", t, func() {
		srv, store := newTestServer(t)
		uploadURL := srv.URL + "/uploads/survey?owner_id=user-1"

		Convey("When posting a valid survey response", func() {
			body := `[{"survey_id": "daily_mood", "survey_version": 1, "metadata": {"timestamp": "2026-08-01T09:00:00Z"}, "responses": {"mood": 7}}]`
			resp, err := http.Post(uploadURL, "application/json", strings.NewReader(body))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the response is stored", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				summary := decodeSummary(t, resp)
				So(summary.ValidCount, ShouldEqual, 1)
				So(store.SurveyResponses("user-1", "daily_mood"), ShouldHaveLength, 1)
			})
		})

		Convey("When the owner_id is missing", func() {
			resp, err := http.Post(srv.URL+"/uploads/survey", "application/json", strings.NewReader(`[]`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestDefinitionEndpoints(t *testing.T) {
	Convey("Given a running API server", t, func() {
		srv, _ := newTestServer(t)

		Convey("When registering a new observer definition version", func() {
			doc := strings.Replace(observerDoc, `"version": 1`, `"version": 2`, 1)
			resp, err := http.Post(srv.URL+"/definitions/observer", "application/json", strings.NewReader(doc))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then it is created", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusCreated)
				var created struct {
					ID      string `json:"id"`
					Version int64  `json:"version"`
				}
				So(json.NewDecoder(resp.Body).Decode(&created), ShouldBeNil)
				So(created.ID, ShouldEqual, "org.mobsense.mobility")
				So(created.Version, ShouldEqual, 2)
			})
		})

		Convey("When re-registering an existing version", func() {
			resp, err := http.Post(srv.URL+"/definitions/observer", "application/json", strings.NewReader(observerDoc))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusConflict)
		})

		Convey("When registering an invalid survey definition", func() {
			resp, err := http.Post(srv.URL+"/definitions/survey", "application/json", strings.NewReader(`{"id": "broken"}`))
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusBadRequest)
		})
	})
}

func TestStatsEndpoint(t *testing.T) {
	Convey("Given a running API server", t, func() {
		srv, _ := newTestServer(t)

		Convey("When fetching stats", func() {
			resp, err := http.Get(srv.URL + "/stats")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			Convey("Then the provider's view is returned", func() {
				So(resp.StatusCode, ShouldEqual, http.StatusOK)
				var stats map[string]interface{}
				So(json.NewDecoder(resp.Body).Decode(&stats), ShouldBeNil)
				So(stats["status"], ShouldEqual, "running")
			})
		})
	})
}

func TestHealthEndpoint(t *testing.T) {
	Convey("Given a running API server", t, func() {
		srv, _ := newTestServer(t)

		Convey("When scraping the health endpoint", func() {
			resp, err := http.Get(srv.URL + "/healthz")
			So(err, ShouldBeNil)
			defer resp.Body.Close()

			So(resp.StatusCode, ShouldEqual, http.StatusOK)
		})
	})
}
