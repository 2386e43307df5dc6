package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsOptions(t *testing.T) {
	Convey("Given a disabled manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithMetricsEnabled(false), WithPrometheusRegistry(registry))

		Convey("Then it should be disabled", func() {
			So(m.enabled, ShouldBeFalse)
			So(m.registry, ShouldEqual, registry)
		})

		Convey("Then collectors should be registered under the pipeline namespace", func() {
			m.cacheHits.WithLabelValues("x").Inc()
			families, err := registry.Gather()
			So(err, ShouldBeNil)
			names := make([]string, 0, len(families))
			for _, f := range families {
				names = append(names, f.GetName())
			}
			So(names, ShouldContain, "tablewatch_pipeline_cache_hits_total")
		})
	})

	Convey("A nil registry should keep the default registerer", t, func() {
		m := &Manager{registry: prometheus.DefaultRegisterer}
		WithPrometheusRegistry(nil)(m)
		So(m.registry, ShouldEqual, prometheus.DefaultRegisterer)
	})
}

func TestManagerCounters(t *testing.T) {
	Convey("Given a manager on its own registry", t, func() {
		registry := prometheus.NewRegistry()
		m := NewManager(WithPrometheusRegistry(registry))

		Convey("When incrementing cache counters directly", func() {
			m.cacheHits.WithLabelValues("detection").Inc()
			m.cacheHits.WithLabelValues("detection").Inc()
			m.cacheMisses.WithLabelValues("detection").Inc()

			Convey("Then the values should be observable", func() {
				So(testutil.ToFloat64(m.cacheHits.WithLabelValues("detection")), ShouldEqual, 2)
				So(testutil.ToFloat64(m.cacheMisses.WithLabelValues("detection")), ShouldEqual, 1)
			})
		})
	})
}

func TestGlobalRecording(t *testing.T) {
	Convey("Given the global metrics manager", t, func() {
		So(GetRegistry(), ShouldNotBeNil)

		Convey("Then every recording helper should be safe to call", func() {
			So(func() {
				RecordMeasurement("pot", "accepted")
				ObserveConfidence("pot", 0.9)
				ObserveDetectionDuration("pot", 12)
				RecordSanityViolation("board", "CRITICAL")
				RecordFallback("pot", "WARNING")
				UpdateFallbackStreak("pot", 2)
				RecordFrame(16.6)
				UpdateFPS("default", 30)
				RecordCacheHit("detection")
				RecordCacheMiss("detection")
				RecordCacheEviction("detection")
				UpdateCacheSize("detection", 3)
				RecordEventEmitted("update", "HIGH")
				RecordEventSuppressed()
				RecordEventDropped("buffer_full", 2)
				RecordBatchDelivered(10)
				RecordBatchDeliveryError()
				RecordBatchRetry()
				UpdateBatchPending(4)
				UpdateQueueSize("pot", 1)
				UpdateQueueCapacity("pot", 16)
				RecordQueueEnqueue("pot")
				RecordQueueDequeue("pot")
				RecordQueueEnqueueError("pot", "full")
				RecordWorkerProcessingLatency(0.3)
				RecordWorkerError()
				RecordPersistenceSave(1.5, 1700000000)
				RecordPersistenceError("save")
				RecordHTTPRequest("/snapshot", "GET", "200")
				RecordHTTPRequestDuration("/snapshot", "GET", "200", 0.4)
				RecordErrorByComponent("api", "validation")
				RecordErrorByType("validation", "warning")
				RecordErrorByEndpoint("/measurements", "POST", "bad_request")
				RecordErrorLatency("api", "validation", 1)
				UpdateSystemMemoryUsage(1024)
				UpdateSystemGoroutineCount(10)
				RecordSystemGCPauseTime(0.1)
			}, ShouldNotPanic)
		})

		Convey("When recording a cache hit", func() {
			before := testutil.ToFloat64(globalManager.cacheHits.WithLabelValues("global-test"))
			RecordCacheHit("global-test")

			Convey("Then the global counter should move by one", func() {
				So(testutil.ToFloat64(globalManager.cacheHits.WithLabelValues("global-test")), ShouldEqual, before+1)
			})
		})
	})
}

func TestDisabledManager(t *testing.T) {
	Convey("Given a disabled global manager", t, func() {
		saved := globalManager
		globalManager = NewManager(WithPrometheusRegistry(prometheus.NewRegistry()), WithMetricsEnabled(false))
		defer func() { globalManager = saved }()

		RecordCacheHit("off")

		Convey("Then recordings should be ignored", func() {
			So(testutil.ToFloat64(globalManager.cacheHits.WithLabelValues("off")), ShouldEqual, 0)
		})
	})
}
