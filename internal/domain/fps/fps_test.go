package fps

import (
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

func TestCounter(t *testing.T) {
	Convey("Given a counter with a fake clock", t, func() {
		clk := &fakeClock{now: time.Unix(1_700_000_000, 0)}
		c := New(WithClock(clk.Now), WithWindow(4))

		Convey("With zero or one tick the rates should be zero", func() {
			So(c.Average(""), ShouldEqual, 0)
			So(c.Instantaneous(""), ShouldEqual, 0)
			c.Tick("")
			So(c.Average(""), ShouldEqual, 0)
		})

		Convey("Two ticks 0.5s apart should average 2 fps", func() {
			c.Tick("")
			clk.Advance(500 * time.Millisecond)
			c.Tick(DefaultStream)
			So(c.Average(DefaultStream), ShouldAlmostEqual, 2.0, 1e-9)
			So(c.Instantaneous(""), ShouldAlmostEqual, 2.0, 1e-9)
		})

		Convey("Instantaneous should follow the last interval only", func() {
			c.Tick("cam")
			clk.Advance(time.Second)
			c.Tick("cam")
			clk.Advance(100 * time.Millisecond)
			c.Tick("cam")
			So(c.Instantaneous("cam"), ShouldAlmostEqual, 10.0, 1e-9)
			So(c.Average("cam"), ShouldAlmostEqual, 2.0/1.1, 1e-9)
		})

		Convey("The window should drop the oldest ticks when full", func() {
			c.Tick("a")
			clk.Advance(10 * time.Second)
			for i := 0; i < 4; i++ {
				c.Tick("a")
				clk.Advance(100 * time.Millisecond)
			}
			So(c.Average("a"), ShouldAlmostEqual, 10.0, 1e-9)
		})

		Convey("Streams should be independent", func() {
			c.Tick("a")
			clk.Advance(time.Second)
			c.Tick("a")
			c.Tick("b")
			So(c.Average("a"), ShouldAlmostEqual, 1.0, 1e-9)
			So(c.Average("b"), ShouldEqual, 0)

			snap := c.Snapshot()
			So(len(snap), ShouldEqual, 2)
			So(snap[0].Key, ShouldEqual, "a")
			So(snap[0].Samples, ShouldEqual, 2)
			So(snap[1].Key, ShouldEqual, "b")
		})

		Convey("Identical timestamps should not divide by zero", func() {
			c.Tick("x")
			c.Tick("x")
			So(c.Average("x"), ShouldEqual, 0)
		})
	})
}
