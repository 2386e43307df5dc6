package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	service "github.com/okian/tablewatch/internal/app"
	"github.com/okian/tablewatch/internal/config"
	"github.com/okian/tablewatch/internal/domain/model"
	"github.com/okian/tablewatch/pkg/logger"
	. "github.com/smartystreets/goconvey/convey"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

func TestService_New(t *testing.T) {
	Convey("Given a new service with default options", t, func() {
		svc := service.New()

		Convey("Then it should carry the default configuration", func() {
			So(svc, ShouldNotBeNil)
			So(svc.Config().QueueSize, ShouldEqual, config.New().QueueSize)
			So(svc.Started(), ShouldBeFalse)
			So(svc.Dispatcher(), ShouldBeNil)
		})

		Convey("And operations needing a running pipeline should refuse", func() {
			ctx := context.Background()
			So(svc.Submit(ctx, model.Measurement{Payload: model.Pot{Amount: 1}, Confidence: 1}), ShouldBeFalse)
			_, err := svc.Apply(ctx, model.Measurement{Payload: model.Pot{Amount: 1}, Confidence: 1})
			So(errors.Is(err, service.ErrNotStarted), ShouldBeTrue)
			So(svc.Stop(ctx), ShouldBeNil)
		})
	})
}

func TestService_StartStop(t *testing.T) {
	Convey("Given a new service", t, func() {
		svc := service.New(service.WithLogger(logger.Discard()))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		Convey("When starting the service", func() {
			err := svc.Start(ctx)
			defer func() { _ = svc.Stop(ctx) }()

			Convey("Then it should be running with a session id", func() {
				So(err, ShouldBeNil)
				st := svc.Stats(ctx)
				So(st.Started, ShouldBeTrue)
				So(st.SessionID, ShouldNotBeEmpty)
				So(len(st.Pending), ShouldEqual, len(model.FieldTypes()))
			})

			Convey("And starting again should be a no-op", func() {
				id := svc.SessionID()
				So(svc.Start(ctx), ShouldBeNil)
				So(svc.SessionID(), ShouldEqual, id)
			})
		})

		Convey("When stopping a started service", func() {
			So(svc.Start(ctx), ShouldBeNil)
			err := svc.Stop(ctx)

			Convey("Then it should be marked as stopped", func() {
				So(err, ShouldBeNil)
				So(svc.Stats(ctx).Started, ShouldBeFalse)
				So(svc.Submit(ctx, model.Measurement{Payload: model.Pot{Amount: 1}, Confidence: 1}), ShouldBeFalse)
			})

			Convey("And stopping twice should be safe", func() {
				So(svc.Stop(ctx), ShouldBeNil)
			})
		})
	})

	Convey("Given a configuration with inverted thresholds", t, func() {
		cfg := config.New()
		cfg.Thresholds[string(model.FieldPot)] = config.ThresholdConfig{MinConfidence: 0.9, HighConfidence: 0.5}
		svc := service.New(service.WithConfig(cfg), service.WithLogger(logger.Discard()))

		Convey("When starting the service", func() {
			err := svc.Start(context.Background())

			Convey("Then it should fail with a configuration error", func() {
				So(errors.Is(err, config.ErrInvalidConfig), ShouldBeTrue)
				So(svc.Started(), ShouldBeFalse)
			})
		})
	})
}
