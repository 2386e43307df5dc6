package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/okian/tablewatch/internal/adapters/http/api"
	"github.com/okian/tablewatch/internal/domain/fps"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/texture"
	"github.com/okian/tablewatch/internal/domain/tracker"
	"github.com/okian/tablewatch/internal/domain/types"
	. "github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing
type mockDependencies struct {
	mu        sync.Mutex
	accept    bool
	submitted []model.Measurement

	snapshot   model.Snapshot
	detections []tracker.Record
	streams    []fps.Stream
	stats      types.Stats
}

func (m *mockDependencies) Submit(_ context.Context, meas model.Measurement) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.accept {
		return false
	}
	m.submitted = append(m.submitted, meas)
	return true
}

func (m *mockDependencies) Snapshot() model.Snapshot           { return m.snapshot }
func (m *mockDependencies) Detections() []tracker.Record       { return m.detections }
func (m *mockDependencies) FrameRates() []fps.Stream           { return m.streams }
func (m *mockDependencies) Stats(context.Context) types.Stats { return m.stats }

func newMux(deps *mockDependencies, opts ...api.Option) *http.ServeMux {
	mux := http.NewServeMux()
	api.NewServer(deps, opts...).Register(context.Background(), mux)
	return mux
}

func do(mux http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)
	return w
}

func TestServer_Register(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{accept: true, stats: types.Stats{Started: true, SessionID: "s-1"}}
		mux := newMux(deps)

		Convey("Then the health endpoint should expose metrics", func() {
			w := do(mux, "GET", "/healthz", "")
			So(w.Code, ShouldEqual, http.StatusOK)
		})

		Convey("And the stats endpoint should return the service report", func() {
			w := do(mux, "GET", "/stats", "")
			So(w.Code, ShouldEqual, http.StatusOK)
			var st types.Stats
			So(json.Unmarshal(w.Body.Bytes(), &st), ShouldBeNil)
			So(st.Started, ShouldBeTrue)
			So(st.SessionID, ShouldEqual, "s-1")
		})

		Convey("And unknown paths should not be found", func() {
			So(do(mux, "GET", "/leaderboard", "").Code, ShouldEqual, http.StatusNotFound)
		})

		Convey("And the stream should only be mounted when configured", func() {
			So(do(mux, "GET", "/stream", "").Code, ShouldEqual, http.StatusNotFound)

			streamed := newMux(deps, api.WithStream(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTeapot)
			})))
			So(do(streamed, "GET", "/stream", "").Code, ShouldEqual, http.StatusTeapot)
		})
	})
}

func TestMeasurementsHandler(t *testing.T) {
	Convey("Given a measurements handler", t, func() {
		deps := &mockDependencies{accept: true}
		handler := api.NewMeasurementsHandler(deps)
		post := func(body string) *httptest.ResponseRecorder {
			req := httptest.NewRequest("POST", "/measurements", strings.NewReader(body))
			w := httptest.NewRecorder()
			handler.HandlePostMeasurements(w, req)
			return w
		}

		Convey("When posting a single measurement", func() {
			w := post(`{"type":"pot","payload":{"amount":125.5},"confidence":0.88,"method":"ocr","duration_ms":12}`)

			Convey("Then it should be accepted and queued", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var resp types.MeasurementResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Accepted, ShouldEqual, 1)
				So(len(deps.submitted), ShouldEqual, 1)
				So(deps.submitted[0].Payload, ShouldResemble, model.Pot{Amount: 125.5})
				So(deps.submitted[0].Confidence, ShouldEqual, 0.88)
			})
		})

		Convey("When posting an array with one bad item", func() {
			w := post(`[
				{"type":"button","payload":{"seat":3},"confidence":0.9},
				{"type":"weather","payload":{},"confidence":0.9}
			]`)

			Convey("Then the good item should be queued and the bad one reported", func() {
				So(w.Code, ShouldEqual, http.StatusAccepted)
				var resp types.MeasurementResponse
				So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
				So(resp.Accepted, ShouldEqual, 1)
				So(len(resp.Errors), ShouldEqual, 1)
				So(resp.Errors[0], ShouldContainSubstring, "item 1")
			})
		})

		Convey("When every item is invalid", func() {
			w := post(`{"type":"weather","payload":{}}`)

			Convey("Then it should return bad request", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "bad_request")
			})
		})

		Convey("When the body is not JSON", func() {
			So(post(`not json`).Code, ShouldEqual, http.StatusBadRequest)
			So(post(``).Code, ShouldEqual, http.StatusBadRequest)
			So(post(`[]`).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("When the queues are full", func() {
			deps.accept = false
			w := post(`{"type":"pot","payload":{"amount":1},"confidence":0.9}`)

			Convey("Then it should return too many requests", func() {
				So(w.Code, ShouldEqual, http.StatusTooManyRequests)
				So(w.Body.String(), ShouldContainSubstring, "backpressure")
			})
		})

		Convey("When using the wrong method", func() {
			req := httptest.NewRequest("GET", "/measurements", http.NoBody)
			w := httptest.NewRecorder()
			handler.HandlePostMeasurements(w, req)
			So(w.Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestStateHandler(t *testing.T) {
	Convey("Given pipeline state", t, func() {
		deps := &mockDependencies{
			snapshot: model.Snapshot{Pot: 125.5, BoardCards: []string{"Ah", "Kd", "7c"}, ButtonSeat: 4},
			detections: []tracker.Record{
				{Type: model.FieldPot, Count: 4, SuccessCount: 3, CacheHits: 1},
			},
			streams: []fps.Stream{{Key: fps.DefaultStream, Samples: 10, Average: 30}},
		}
		mux := newMux(deps)

		Convey("When reading the snapshot", func() {
			w := do(mux, "GET", "/snapshot", "")

			Convey("Then it should return the current table", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var snap model.Snapshot
				So(json.Unmarshal(w.Body.Bytes(), &snap), ShouldBeNil)
				So(snap.Pot, ShouldEqual, 125.5)
				So(snap.BoardCards, ShouldResemble, []string{"Ah", "Kd", "7c"})
			})
		})

		Convey("When reading detection statistics", func() {
			w := do(mux, "GET", "/metrics/detections", "")

			Convey("Then each record should carry its success rate", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var out []map[string]any
				So(json.Unmarshal(w.Body.Bytes(), &out), ShouldBeNil)
				So(len(out), ShouldEqual, 1)
				So(out[0]["type"], ShouldEqual, "pot")
				So(out[0]["cache_hits"], ShouldEqual, 1.0)
				So(out[0]["success_rate"], ShouldEqual, 0.75)
			})
		})

		Convey("When reading frame rates", func() {
			w := do(mux, "GET", "/fps", "")

			Convey("Then the streams should be listed", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				So(w.Body.String(), ShouldContainSubstring, `"average_fps":30`)
			})
		})

		Convey("When no frame was counted yet", func() {
			deps.streams = nil
			w := do(mux, "GET", "/fps", "")

			Convey("Then an empty list should be returned", func() {
				So(strings.TrimSpace(w.Body.String()), ShouldEqual, "[]")
			})
		})

		Convey("When writing to a read endpoint", func() {
			So(do(mux, "POST", "/snapshot", "").Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestTextureHandler(t *testing.T) {
	Convey("Given the texture endpoint", t, func() {
		mux := newMux(&mockDependencies{})

		Convey("When describing a monotone flop", func() {
			w := do(mux, "POST", "/texture", `{"cards":["Ah","Kh","7h"]}`)

			Convey("Then it should return the descriptor", func() {
				So(w.Code, ShouldEqual, http.StatusOK)
				var d texture.Descriptor
				So(json.Unmarshal(w.Body.Bytes(), &d), ShouldBeNil)
				So(d.Cards, ShouldEqual, 3)
				So(d.Suitedness, ShouldEqual, texture.Monotone)
				So(d.FlushPossible, ShouldBeTrue)
			})
		})

		Convey("When the board repeats a card", func() {
			w := do(mux, "POST", "/texture", `{"cards":["Ah","Ah","7h"]}`)

			Convey("Then it should be rejected", func() {
				So(w.Code, ShouldEqual, http.StatusBadRequest)
				So(w.Body.String(), ShouldContainSubstring, "invalid_board")
			})
		})
	})
}

func TestErrorKinds(t *testing.T) {
	Convey("Given wrapped API errors", t, func() {
		err := api.WrapKind("op", api.ErrBadRequest, context.Canceled)

		Convey("Then both the kind and the cause should match", func() {
			So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
			So(errors.Is(err, context.Canceled), ShouldBeTrue)
			So(api.NewKind("op", api.ErrBackpressure).Error(), ShouldEqual, "op: backpressure")
		})
	})
}
