package batcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/okian/tablewatch/internal/domain/dedupe"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type recordingSink struct {
	mu      sync.Mutex
	batches []Batch
	fail    int32 // number of calls to fail before succeeding; -1 fails forever
	calls   atomic.Int32
}

func (s *recordingSink) Deliver(_ context.Context, b Batch) error {
	n := s.calls.Add(1)
	if s.fail < 0 || n <= s.fail {
		return errors.New("sink unavailable")
	}
	s.mu.Lock()
	s.batches = append(s.batches, b)
	s.mu.Unlock()
	return nil
}

func (s *recordingSink) snapshot() []Batch {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Batch, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *recordingSink) events() []model.Event {
	var out []model.Event
	for _, b := range s.snapshot() {
		out = append(out, b.Events...)
	}
	return out
}

func potEvent(i int) model.Event {
	return model.Event{
		ID:    fmt.Sprintf("e-%d", i),
		Kind:  model.KindUpdate,
		Field: model.FieldPot,
		Data:  model.Pot{Amount: float64(i)},
		Level: model.LevelHigh,
	}
}

func waitFor(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return cond()
}

func ids(events []model.Event) []string {
	out := make([]string, len(events))
	for i, e := range events {
		out[i] = e.ID
	}
	return out
}

func TestSizeTrigger(t *testing.T) {
	Convey("Given a started batcher with max batch 5 and a long interval", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		b := New(sink, WithMaxBatch(5), WithInterval(time.Hour), WithLogger(logger.Discard()))
		b.Start(ctx)
		defer func() { _ = b.Close(ctx) }()

		Convey("When exactly max batch events are added", func() {
			for i := 0; i < 5; i++ {
				So(b.Add(ctx, potEvent(i)), ShouldBeTrue)
			}

			Convey("Then one batch of exactly those events should be delivered in order", func() {
				So(waitFor(func() bool { return len(sink.snapshot()) == 1 }), ShouldBeTrue)
				batch := sink.snapshot()[0]
				So(ids(batch.Events), ShouldResemble, []string{"e-0", "e-1", "e-2", "e-3", "e-4"})
				So(batch.ID, ShouldNotBeEmpty)
				So(batch.Seq, ShouldEqual, 1)
				So(b.Pending(), ShouldEqual, 0)
			})
		})

		Convey("When fewer than max batch events are added", func() {
			b.Add(ctx, potEvent(1))
			time.Sleep(30 * time.Millisecond)

			Convey("Then nothing should be delivered before the interval", func() {
				So(sink.snapshot(), ShouldBeEmpty)
				So(b.Pending(), ShouldEqual, 1)
			})
		})
	})
}

func TestIntervalTrigger(t *testing.T) {
	Convey("Given a batcher with a short interval", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		b := New(sink, WithMaxBatch(50), WithInterval(20*time.Millisecond), WithLogger(logger.Discard()))
		b.Start(ctx)
		defer func() { _ = b.Close(ctx) }()

		b.Add(ctx, potEvent(1))
		b.Add(ctx, potEvent(2))

		Convey("Then the partial batch should flush after the interval", func() {
			So(waitFor(func() bool { return len(sink.events()) == 2 }), ShouldBeTrue)
			So(ids(sink.events()), ShouldResemble, []string{"e-1", "e-2"})
		})
	})
}

func TestDedup(t *testing.T) {
	Convey("Given a batcher with a dedup window", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		b := New(sink,
			WithDeduper(dedupe.NewWindowDeduper(dedupe.WithWindow(time.Hour))),
			WithLogger(logger.Discard()),
		)

		first := potEvent(7)
		second := potEvent(7)
		second.ID = "other-id"

		So(b.Add(ctx, first), ShouldBeTrue)
		So(b.Add(ctx, second), ShouldBeFalse)
		So(b.Add(ctx, potEvent(8)), ShouldBeTrue)
		b.Flush(ctx)

		Convey("Then the repeat should be suppressed and never delivered", func() {
			So(ids(sink.events()), ShouldResemble, []string{"e-7", "e-8"})
			So(b.Stats().Suppressed, ShouldEqual, 1)
		})
	})
}

func TestBackpressure(t *testing.T) {
	Convey("Given a full buffer that does not block", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		d := dedupe.NewWindowDeduper(dedupe.WithWindow(time.Hour))
		b := New(sink,
			WithMaxBatch(3), WithBufferCap(3), WithBlockTimeout(0),
			WithDeduper(d), WithLogger(logger.Discard()),
		)

		for i := 1; i <= 4; i++ {
			So(b.Add(ctx, potEvent(i)), ShouldBeTrue)
		}

		Convey("Then the oldest pending event should be dropped", func() {
			So(b.Pending(), ShouldEqual, 3)
			So(b.Stats().Dropped, ShouldEqual, 1)

			b.Flush(ctx)
			So(ids(sink.events()), ShouldResemble, []string{"e-2", "e-3", "e-4"})
		})

		Convey("Then the dropped event should be admitted again", func() {
			b.Flush(ctx)
			So(b.Add(ctx, potEvent(1)), ShouldBeTrue)
		})
	})

	Convey("Given a full buffer that blocks briefly", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		b := New(sink, WithMaxBatch(2), WithBufferCap(2), WithBlockTimeout(time.Second), WithLogger(logger.Discard()))
		b.Add(ctx, potEvent(1))
		b.Add(ctx, potEvent(2))

		go func() {
			time.Sleep(20 * time.Millisecond)
			b.Flush(ctx)
		}()

		Convey("Then Add should wait for room instead of dropping", func() {
			So(b.Add(ctx, potEvent(3)), ShouldBeTrue)
			So(b.Stats().Dropped, ShouldEqual, 0)
			b.Flush(ctx)
			So(ids(sink.events()), ShouldResemble, []string{"e-1", "e-2", "e-3"})
		})
	})
}

func TestRetries(t *testing.T) {
	Convey("Given a sink that fails twice", t, func() {
		ctx := context.Background()
		sink := &recordingSink{fail: 2}
		b := New(sink, WithRetries(3, time.Millisecond), WithLogger(logger.Discard()))
		b.Add(ctx, potEvent(1))
		b.Flush(ctx)

		Convey("Then the batch should be delivered on the third attempt", func() {
			So(len(sink.events()), ShouldEqual, 1)
			So(sink.calls.Load(), ShouldEqual, 3)
			So(b.Stats().FailedBatches, ShouldEqual, 0)
		})
	})

	Convey("Given a sink that always fails", t, func() {
		ctx := context.Background()
		sink := &recordingSink{fail: -1}
		b := New(sink, WithRetries(2, time.Millisecond), WithLogger(logger.Discard()))
		b.Add(ctx, potEvent(1))
		b.Add(ctx, potEvent(2))

		err := b.deliver(ctx, []model.Event{potEvent(3)})
		b.Flush(ctx)

		Convey("Then batches should be dropped after bounded retries", func() {
			So(errors.Is(err, ErrDelivery), ShouldBeTrue)
			So(sink.calls.Load(), ShouldEqual, 6)
			st := b.Stats()
			So(st.FailedBatches, ShouldEqual, 2)
			So(st.Dropped, ShouldEqual, 3)
			So(st.Pending, ShouldEqual, 0)
		})
	})
}

func TestClose(t *testing.T) {
	Convey("Given a started batcher with pending events", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		b := New(sink, WithInterval(time.Hour), WithLogger(logger.Discard()))
		b.Start(ctx)
		b.Add(ctx, potEvent(1))

		So(b.Close(ctx), ShouldBeNil)

		Convey("Then Close should flush them and refuse new events", func() {
			So(ids(sink.events()), ShouldResemble, []string{"e-1"})
			So(b.Add(ctx, potEvent(2)), ShouldBeFalse)
			So(b.Close(ctx), ShouldBeNil)
		})
	})
}

func TestConcurrentProducers(t *testing.T) {
	Convey("Given many producers", t, func() {
		ctx := context.Background()
		sink := &recordingSink{}
		b := New(sink,
			WithMaxBatch(50), WithBufferCap(10_000), WithInterval(5*time.Millisecond),
			WithDeduper(dedupe.NewWindowDeduper(dedupe.WithWindow(time.Hour), dedupe.WithMaxSize(0))),
			WithLogger(logger.Discard()),
		)
		b.Start(ctx)

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					b.Add(ctx, potEvent(g*100+i))
				}
			}(g)
		}
		wg.Wait()
		So(b.Close(ctx), ShouldBeNil)

		Convey("Then every event should be delivered exactly once", func() {
			seen := make(map[string]bool)
			for _, batch := range sink.snapshot() {
				So(len(batch.Events), ShouldBeLessThanOrEqualTo, 50)
				for _, e := range batch.Events {
					So(seen[e.ID], ShouldBeFalse)
					seen[e.ID] = true
				}
			}
			So(len(seen), ShouldEqual, 800)
		})
	})
}
