package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	service "github.com/okian/tablewatch/internal/app"
	"github.com/okian/tablewatch/internal/adapters/cache"
	"github.com/okian/tablewatch/internal/domain/confidence"
	"github.com/okian/tablewatch/internal/domain/fallback"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/internal/domain/sanity"
	"github.com/okian/tablewatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2024, 3, 1, 20, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type eventLog struct {
	mu     sync.Mutex
	events []model.Event
}

func (l *eventLog) Add(_ context.Context, e model.Event) bool {
	l.mu.Lock()
	l.events = append(l.events, e)
	l.mu.Unlock()
	return true
}

func (l *eventLog) all() []model.Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]model.Event(nil), l.events...)
}

func (l *eventLog) ofKind(k model.EventKind) []model.Event {
	var out []model.Event
	for _, e := range l.all() {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func testPolicy() *confidence.Policy {
	p, err := confidence.New(
		confidence.WithThresholds(model.FieldPot, confidence.Thresholds{Min: 0.6, High: 0.85}),
		confidence.WithThresholds(model.FieldBoard, confidence.Thresholds{Min: 0.7, High: 0.9}),
		confidence.WithThresholds(model.FieldPlayer, confidence.Thresholds{Min: 0.6, High: 0.85}),
	)
	if err != nil {
		panic(err)
	}
	return p
}

func newTestDispatcher(clock *fakeClock, events *eventLog, opts ...service.DispatcherOption) *service.Dispatcher {
	base := []service.DispatcherOption{
		service.WithPolicy(testPolicy()),
		service.WithEvents(events),
		service.WithDispatcherClock(clock.Now),
		service.WithDispatcherLogger(logger.Discard()),
		service.WithFallback(fallback.New(fallback.WithThreshold(3), fallback.WithLogger(logger.Discard()))),
		service.WithCache(cache.New[model.Measurement](cache.WithTTL(2*time.Second), cache.WithClock(clock.Now))),
	}
	return service.NewDispatcher(append(base, opts...)...)
}

func TestDispatcherAccept(t *testing.T) {
	Convey("Given a dispatcher with pot thresholds 0.6/0.85", t, func() {
		ctx := context.Background()
		clock := newFakeClock()
		events := &eventLog{}
		d := newTestDispatcher(clock, events)

		Convey("When a pot of 125.5 is read with confidence 0.88", func() {
			frame := d.BeginFrame()
			out := d.UpdatePot(ctx, 125.5, 0.88, "ocr", 12*time.Millisecond)
			d.EndFrame(ctx, frame)

			Convey("Then it should be accepted as HIGH", func() {
				So(out.Status, ShouldEqual, service.StatusAccepted)
				So(out.Level, ShouldEqual, model.LevelHigh)
				So(out.Violations, ShouldBeEmpty)
				So(out.FrameID, ShouldEqual, frame)
			})

			Convey("And the snapshot should carry the new pot", func() {
				snap := d.Snapshot()
				So(snap.Pot, ShouldEqual, 125.5)
				So(snap.LastUpdated.Equal(clock.Now()), ShouldBeTrue)
				So(d.Version(), ShouldEqual, 1)
			})

			Convey("And one HIGH update event should be emitted", func() {
				all := events.all()
				So(len(all), ShouldEqual, 1)
				So(all[0].Kind, ShouldEqual, model.KindUpdate)
				So(all[0].Level, ShouldEqual, model.LevelHigh)
				So(all[0].Data, ShouldResemble, model.Pot{Amount: 125.5})
				So(all[0].ID, ShouldEqual, out.EventID)
			})

			Convey("And the tracker should count one fresh success", func() {
				rec, ok := d.Tracker().Get(model.FieldPot)
				So(ok, ShouldBeTrue)
				So(rec.Count, ShouldEqual, 1)
				So(rec.SuccessCount, ShouldEqual, 1)
				So(rec.DurationAvgMS, ShouldEqual, 12)
			})
		})

		Convey("When the confidence is between the thresholds", func() {
			out := d.UpdatePot(ctx, 40, 0.7, "ocr", time.Millisecond)

			Convey("Then it should be accepted as MEDIUM", func() {
				So(out.Status, ShouldEqual, service.StatusAccepted)
				So(out.Level, ShouldEqual, model.LevelMedium)
			})
		})
	})
}

func TestDispatcherBelowThreshold(t *testing.T) {
	Convey("Given a dispatcher holding a pot of 50", t, func() {
		ctx := context.Background()
		events := &eventLog{}
		d := newTestDispatcher(newFakeClock(), events)
		d.UpdatePot(ctx, 50, 0.9, "ocr", time.Millisecond)

		Convey("When a reading falls below the admission threshold", func() {
			out := d.UpdatePot(ctx, 80, 0.3, "ocr", time.Millisecond)

			Convey("Then the last known value should be returned", func() {
				So(out.Status, ShouldEqual, service.StatusBelowThreshold)
				So(out.Value, ShouldResemble, model.Pot{Amount: 50})
				So(out.Streak, ShouldEqual, 1)
				So(out.Stale, ShouldBeFalse)
			})

			Convey("And the snapshot should be unchanged", func() {
				So(d.Snapshot().Pot, ShouldEqual, 50)
			})

			Convey("And no further event should be emitted", func() {
				So(len(events.all()), ShouldEqual, 1)
			})
		})

		Convey("When three readings in a row fall below the threshold", func() {
			var outs []service.Outcome
			for i := 0; i < 3; i++ {
				outs = append(outs, d.UpdatePot(ctx, 80, 0.2, "ocr", time.Millisecond))
			}

			Convey("Then the third should mark the field stale", func() {
				So(outs[1].Stale, ShouldBeFalse)
				So(outs[2].Stale, ShouldBeTrue)
				So(outs[2].Streak, ShouldEqual, 3)
			})

			Convey("And exactly one stale event should be emitted", func() {
				stale := events.ofKind(model.KindStale)
				So(len(stale), ShouldEqual, 1)
				So(stale[0].Field, ShouldEqual, model.FieldPot)
				So(stale[0].Level, ShouldEqual, model.LevelLow)
				So(stale[0].Data, ShouldResemble, model.Pot{Amount: 50})
			})

			Convey("And a good reading should clear the streak", func() {
				d.UpdatePot(ctx, 60, 0.95, "ocr", time.Millisecond)
				So(d.Fallback().Streak(model.FieldPot), ShouldEqual, 0)
				So(d.Fallback().Stale(model.FieldPot), ShouldBeFalse)
			})
		})
	})
}

func TestDispatcherRejection(t *testing.T) {
	Convey("Given a dispatcher with a flop on the board", t, func() {
		ctx := context.Background()
		events := &eventLog{}
		d := newTestDispatcher(newFakeClock(), events)
		out := d.UpdateBoard(ctx, []string{"Ah", "Kd", "7c"}, 0.95, "template", time.Millisecond)
		So(out.Status, ShouldEqual, service.StatusAccepted)

		Convey("When a board with a duplicated card arrives", func() {
			out := d.UpdateBoard(ctx, []string{"Ah", "Kd", "Kd"}, 0.95, "template", time.Millisecond)

			Convey("Then it should be rejected with a CRITICAL violation", func() {
				So(out.Status, ShouldEqual, service.StatusRejected)
				So(model.MaxSeverity(out.Violations), ShouldEqual, model.SeverityCritical)
				So(out.Value, ShouldResemble, model.Board{Cards: []string{"Ah", "Kd", "7c"}})
			})

			Convey("And the prior board should be kept", func() {
				So(d.Snapshot().BoardCards, ShouldResemble, []string{"Ah", "Kd", "7c"})
			})

			Convey("And a LOW rejected event should carry the violations", func() {
				rejected := events.ofKind(model.KindRejected)
				So(len(rejected), ShouldEqual, 1)
				So(rejected[0].Level, ShouldEqual, model.LevelLow)
				So(rejected[0].Violations, ShouldNotBeEmpty)
			})

			Convey("And the failure should count towards the streak", func() {
				So(d.Fallback().Streak(model.FieldBoard), ShouldEqual, 1)
			})
		})
	})

	Convey("Given a pot of 100", t, func() {
		ctx := context.Background()

		Convey("When the pot shrinks and ERROR violations reject", func() {
			d := newTestDispatcher(newFakeClock(), &eventLog{})
			d.UpdatePot(ctx, 100, 0.9, "ocr", time.Millisecond)
			out := d.UpdatePot(ctx, 20, 0.9, "ocr", time.Millisecond)

			Convey("Then the update should be rejected", func() {
				So(out.Status, ShouldEqual, service.StatusRejected)
				So(out.Violations[0].Rule, ShouldEqual, sanity.RulePotShrink)
				So(d.Snapshot().Pot, ShouldEqual, 100)
			})
		})

		Convey("When the pot shrinks and ERROR violations only warn", func() {
			d := newTestDispatcher(newFakeClock(), &eventLog{}, service.WithRejectOnError(false))
			d.UpdatePot(ctx, 100, 0.9, "ocr", time.Millisecond)
			out := d.UpdatePot(ctx, 20, 0.9, "ocr", time.Millisecond)

			Convey("Then the update should be applied with its violation", func() {
				So(out.Status, ShouldEqual, service.StatusAccepted)
				So(len(out.Violations), ShouldEqual, 1)
				So(d.Snapshot().Pot, ShouldEqual, 20)
			})
		})

		Convey("When the shrinking pot opens a new hand", func() {
			d := newTestDispatcher(newFakeClock(), &eventLog{})
			d.UpdatePot(ctx, 100, 0.9, "ocr", time.Millisecond)
			d.UpdateBoard(ctx, []string{"2c", "3d", "4h"}, 0.95, "template", time.Millisecond)
			out, err := d.Apply(ctx, model.Measurement{Payload: model.Pot{Amount: 3}, Confidence: 0.9, NewHand: true})

			Convey("Then it should be accepted and clear the board", func() {
				So(err, ShouldBeNil)
				So(out.Status, ShouldEqual, service.StatusAccepted)
				snap := d.Snapshot()
				So(snap.Pot, ShouldEqual, 3)
				So(snap.BoardCards, ShouldBeEmpty)
				So(snap.HandNumber, ShouldEqual, 1)
			})
		})
	})
}

func TestDispatcherSeatStreaks(t *testing.T) {
	Convey("Given two seated players", t, func() {
		ctx := context.Background()
		events := &eventLog{}
		d := newTestDispatcher(newFakeClock(), events)
		d.UpdatePlayer(ctx, model.Player{Seat: 3, Name: "hero", Stack: 100, Active: true}, 0.9, "ocr", time.Millisecond)
		d.UpdatePlayer(ctx, model.Player{Seat: 5, Name: "villain", Stack: 100, Active: true}, 0.9, "ocr", time.Millisecond)

		Convey("When seat 3 keeps failing while seat 5 reads cleanly", func() {
			for i := 0; i < 3; i++ {
				out := d.UpdatePlayer(ctx, model.Player{Seat: 3, Stack: 100, Active: true}, 0.3, "ocr", time.Millisecond)
				So(out.Status, ShouldEqual, service.StatusBelowThreshold)
				d.UpdatePlayer(ctx, model.Player{Seat: 5, Name: "villain", Stack: 100, Active: true}, 0.9, "ocr", time.Millisecond)
			}

			Convey("Then seat 3 should turn stale on its own streak", func() {
				So(d.Fallback().StreakOf(fallback.Key{Field: model.FieldPlayer, Seat: 3}), ShouldEqual, 3)
				So(d.Fallback().StreakOf(fallback.Key{Field: model.FieldPlayer, Seat: 5}), ShouldEqual, 0)
				So(d.Fallback().Stale(model.FieldPlayer), ShouldBeTrue)

				stale := events.ofKind(model.KindStale)
				So(len(stale), ShouldEqual, 1)
				So(stale[0].Data.(model.Player).Seat, ShouldEqual, 3)
			})
		})
	})
}

func TestDispatcherApplyErrors(t *testing.T) {
	Convey("Given a dispatcher", t, func() {
		d := newTestDispatcher(newFakeClock(), &eventLog{})

		Convey("When a measurement carries no payload", func() {
			out, err := d.Apply(context.Background(), model.Measurement{Confidence: 1})

			Convey("Then it should fail with an invalid payload error", func() {
				So(errors.Is(err, model.ErrInvalidPayload), ShouldBeTrue)
				So(out.Status, ShouldEqual, service.StatusFailed)
			})
		})
	})
}

func TestDispatcherRecognize(t *testing.T) {
	Convey("Given a dispatcher with a 2s detection cache", t, func() {
		ctx := context.Background()
		clock := newFakeClock()
		events := &eventLog{}
		d := newTestDispatcher(clock, events)

		var calls atomic.Int32
		rec := service.RecognizerFunc(func(_ context.Context, _ model.FieldType, _ []byte) (model.Measurement, error) {
			calls.Add(1)
			return model.Measurement{Payload: model.Pot{Amount: 125.5}, Confidence: 0.9, Method: "ocr", Duration: 20 * time.Millisecond}, nil
		})
		region := []byte("pot-region-pixels")

		Convey("When the same region is recognised twice 300ms apart", func() {
			first, err := d.Recognize(ctx, model.FieldPot, region, rec)
			So(err, ShouldBeNil)
			clock.Advance(300 * time.Millisecond)
			second, err := d.Recognize(ctx, model.FieldPot, region, rec)
			So(err, ShouldBeNil)

			Convey("Then the recognizer should run only once", func() {
				So(calls.Load(), ShouldEqual, 1)
				So(first.Status, ShouldEqual, service.StatusAccepted)
				So(second.Status, ShouldEqual, service.StatusAccepted)
			})

			Convey("And the tracker should count one cache hit", func() {
				r, ok := d.Tracker().Get(model.FieldPot)
				So(ok, ShouldBeTrue)
				So(r.Count, ShouldEqual, 2)
				So(r.CacheHits, ShouldEqual, 1)
				So(r.DurationAvgMS, ShouldEqual, 20)
			})
		})

		Convey("When the cached entry has expired", func() {
			_, _ = d.Recognize(ctx, model.FieldPot, region, rec)
			clock.Advance(3 * time.Second)
			_, _ = d.Recognize(ctx, model.FieldPot, region, rec)

			Convey("Then the recognizer should run again", func() {
				So(calls.Load(), ShouldEqual, 2)
			})
		})

		Convey("When a cached new-hand pot is hit after the board was read", func() {
			opener := service.RecognizerFunc(func(_ context.Context, _ model.FieldType, _ []byte) (model.Measurement, error) {
				calls.Add(1)
				return model.Measurement{Payload: model.Pot{}, NewHand: true, Confidence: 0.9, Method: "ocr"}, nil
			})
			_, err := d.Recognize(ctx, model.FieldPot, region, opener)
			So(err, ShouldBeNil)
			d.UpdateBoard(ctx, []string{"2c", "7d", "Js"}, 0.95, "template", time.Millisecond)
			clock.Advance(300 * time.Millisecond)
			out, err := d.Recognize(ctx, model.FieldPot, region, opener)
			So(err, ShouldBeNil)

			Convey("Then the hit should not start another hand", func() {
				So(calls.Load(), ShouldEqual, 1)
				So(out.Status, ShouldEqual, service.StatusAccepted)
				snap := d.Snapshot()
				So(snap.HandNumber, ShouldEqual, 1)
				So(len(snap.BoardCards), ShouldEqual, 3)
			})
		})

		Convey("When the recognizer fails", func() {
			failing := service.RecognizerFunc(func(context.Context, model.FieldType, []byte) (model.Measurement, error) {
				return model.Measurement{}, errors.New("no glyphs")
			})
			out, err := d.Recognize(ctx, model.FieldButton, []byte("btn"), failing)

			Convey("Then the failure should go to the fallback path", func() {
				So(err, ShouldBeNil)
				So(out.Status, ShouldEqual, service.StatusFailed)
				So(out.Field, ShouldEqual, model.FieldButton)
				So(out.Streak, ShouldEqual, 1)
			})
		})

		Convey("When the recognizer returns a different field", func() {
			wrong := service.RecognizerFunc(func(context.Context, model.FieldType, []byte) (model.Measurement, error) {
				return model.Measurement{Payload: model.Button{Seat: 2}, Confidence: 1}, nil
			})
			out, _ := d.Recognize(ctx, model.FieldPot, region, wrong)

			Convey("Then it should be treated as a failure of the requested field", func() {
				So(out.Status, ShouldEqual, service.StatusFailed)
				So(out.Field, ShouldEqual, model.FieldPot)
				So(d.Snapshot().ButtonSeat, ShouldEqual, 0)
			})
		})
	})
}

func TestDispatcherPolicyReload(t *testing.T) {
	Convey("Given a dispatcher accepting pots at 0.88", t, func() {
		ctx := context.Background()
		d := newTestDispatcher(newFakeClock(), &eventLog{})

		Convey("When the pot threshold is raised to 0.95", func() {
			p, err := confidence.New(confidence.WithThresholds(model.FieldPot, confidence.Thresholds{Min: 0.95, High: 0.99}))
			So(err, ShouldBeNil)
			So(d.ReloadPolicy(p), ShouldBeNil)

			Convey("Then the same reading should fall below threshold", func() {
				out := d.UpdatePot(ctx, 10, 0.88, "ocr", time.Millisecond)
				So(out.Status, ShouldEqual, service.StatusBelowThreshold)
			})
		})

		Convey("When a nil policy is loaded", func() {
			err := d.ReloadPolicy(nil)

			Convey("Then it should be refused", func() {
				So(errors.Is(err, confidence.ErrInvalidThreshold), ShouldBeTrue)
				So(d.Policy(), ShouldNotBeNil)
			})
		})
	})
}

func TestDispatcherFrames(t *testing.T) {
	Convey("Given a dispatcher persisting every second", t, func() {
		ctx := context.Background()
		clock := newFakeClock()
		d := newTestDispatcher(clock, &eventLog{}, service.WithPersistInterval(time.Second))

		Convey("When frames are opened", func() {
			a := d.BeginFrame()
			b := d.BeginFrame()

			Convey("Then ids should increase", func() {
				So(a, ShouldEqual, 1)
				So(b, ShouldEqual, 2)
				So(d.CurrentFrame(), ShouldEqual, 2)
			})
		})

		Convey("When a frame ends before the interval elapsed", func() {
			d.EndFrame(ctx, d.BeginFrame())

			Convey("Then no persistence should be requested", func() {
				So(len(d.PersistRequests()), ShouldEqual, 0)
			})
		})

		Convey("When a frame ends after the interval", func() {
			clock.Advance(1500 * time.Millisecond)
			d.EndFrame(ctx, d.BeginFrame())

			Convey("Then one persistence request should be pending", func() {
				So(len(d.PersistRequests()), ShouldEqual, 1)
			})
		})
	})
}

func TestDispatcherNewHand(t *testing.T) {
	Convey("Given a hand in progress", t, func() {
		ctx := context.Background()
		d := newTestDispatcher(newFakeClock(), &eventLog{})
		d.UpdateHeroCards(ctx, []string{"As", "Ks"}, 0.95, "template", time.Millisecond)
		d.UpdateBoard(ctx, []string{"2c", "3d", "4h"}, 0.95, "template", time.Millisecond)
		d.UpdatePlayer(ctx, model.Player{Seat: 2, Name: "villain", Stack: 100, Active: true}, 0.9, "ocr", time.Millisecond)

		Convey("When a new hand starts", func() {
			n := d.NewHand(ctx)

			Convey("Then per-hand state should be cleared and players kept", func() {
				snap := d.Snapshot()
				So(n, ShouldEqual, 1)
				So(snap.HandNumber, ShouldEqual, 1)
				So(snap.BoardCards, ShouldBeEmpty)
				So(snap.HeroCards, ShouldBeEmpty)
				So(len(snap.Players), ShouldEqual, 1)
			})
		})
	})
}

func TestDispatcherConcurrentFields(t *testing.T) {
	Convey("Given a dispatcher updated from many goroutines", t, func() {
		ctx := context.Background()
		d := newTestDispatcher(newFakeClock(), &eventLog{})

		var wg sync.WaitGroup
		for seat := 1; seat <= 9; seat++ {
			wg.Add(1)
			go func(seat int) {
				defer wg.Done()
				d.UpdatePlayer(ctx, model.Player{Seat: seat, Name: fmt.Sprintf("p%d", seat), Stack: 200, Active: true}, 0.9, "ocr", time.Millisecond)
			}(seat)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= 20; i++ {
				d.UpdatePot(ctx, float64(i), 0.9, "ocr", time.Millisecond)
			}
		}()
		wg.Wait()

		Convey("Then no update should be lost", func() {
			snap := d.Snapshot()
			So(len(snap.Players), ShouldEqual, 9)
			So(snap.Pot, ShouldEqual, 20)
			So(d.Version(), ShouldEqual, 29)
		})
	})
}
