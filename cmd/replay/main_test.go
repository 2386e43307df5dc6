package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/okian/tablewatch/internal/adapters/http/api"
	service "github.com/okian/tablewatch/internal/app"
	"github.com/okian/tablewatch/internal/replay"
	"github.com/okian/tablewatch/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

func execute(stdin string, args ...string) (string, error) {
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand(t *testing.T) {
	convey.Convey("Given the replay CLI", t, func() {
		convey.Convey("When an unknown format is requested", func() {
			_, err := execute("", "generate", "--format", "yaml")

			convey.Convey("Then it should be rejected", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "invalid format")
			})
		})

		convey.Convey("When generating to stdout", func() {
			out, err := execute("", "generate", "--hands", "2", "--seed", "3")

			convey.Convey("Then one JSON measurement per line should be written", func() {
				convey.So(err, convey.ShouldBeNil)
				ms, err := replay.ReadJSONL(strings.NewReader(out))
				convey.So(err, convey.ShouldBeNil)
				cfg := replay.DefaultGenerateConfig()
				cfg.Hands = 2
				cfg.Seed = 3
				convey.So(len(ms), convey.ShouldEqual, len(replay.Generate(cfg)))
			})
		})
	})
}

func TestGenerateAndRun(t *testing.T) {
	convey.Convey("Given a generated session file", t, func() {
		path := filepath.Join(t.TempDir(), "session.jsonl")
		_, err := execute("", "generate", "--hands", "3", "-o", path)
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When it is replayed with JSON output", func() {
			out, err := execute("", "run", "--in", path, "--format", "json")

			convey.Convey("Then the summary should describe the session", func() {
				convey.So(err, convey.ShouldBeNil)
				var sum replay.Summary
				convey.So(json.Unmarshal([]byte(out), &sum), convey.ShouldBeNil)
				convey.So(sum.Hands, convey.ShouldEqual, 3)
				convey.So(sum.Outcomes["accepted"], convey.ShouldEqual, sum.Measurements)
				convey.So(sum.Events, convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When the file is missing", func() {
			_, err := execute("", "run", "--in", filepath.Join(t.TempDir(), "missing.jsonl"))
			convey.So(err, convey.ShouldNotBeNil)
		})
	})

	convey.Convey("Given a session on stdin", t, func() {
		gen, err := execute("", "generate", "--hands", "1")
		convey.So(err, convey.ShouldBeNil)

		convey.Convey("When it is replayed as text", func() {
			out, err := execute(gen, "run", "--in", "-")

			convey.Convey("Then a readable report should be printed", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(out, convey.ShouldContainSubstring, "measurements")
				convey.So(out, convey.ShouldContainSubstring, "table")
			})
		})
	})
}

func TestSubmitCommand(t *testing.T) {
	convey.Convey("Given a running service", t, func() {
		ctx := context.Background()
		svc := service.New(service.WithLogger(logger.Discard()))
		convey.So(svc.Start(ctx), convey.ShouldBeNil)
		convey.Reset(func() { _ = svc.Stop(ctx) })

		mux := http.NewServeMux()
		api.NewServer(svc).Register(ctx, mux)
		srv := httptest.NewServer(mux)
		convey.Reset(srv.Close)

		convey.Convey("When a generated session is submitted", func() {
			out, err := execute("", "submit", "--url", srv.URL, "--hands", "1", "--format", "json")

			convey.Convey("Then every measurement should be queued", func() {
				convey.So(err, convey.ShouldBeNil)
				var stats replay.SubmitStats
				convey.So(json.Unmarshal([]byte(out), &stats), convey.ShouldBeNil)
				convey.So(stats.Sent, convey.ShouldBeGreaterThan, 0)
				convey.So(stats.Accepted, convey.ShouldEqual, stats.Sent)
			})
		})

		convey.Convey("When the service is unreachable", func() {
			_, err := execute("", "submit", "--url", "http://127.0.0.1:1", "--hands", "1")
			convey.So(err, convey.ShouldNotBeNil)
		})
	})
}
