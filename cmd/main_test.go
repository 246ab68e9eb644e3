package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/raidsync/internal/adapters/auth"
	"github.com/okian/raidsync/internal/adapters/http/api"
	"github.com/okian/raidsync/internal/adapters/secrets"
	"github.com/okian/raidsync/internal/config"
	"github.com/okian/raidsync/internal/testuploads"
	"github.com/okian/raidsync/internal/testutil"
	"github.com/okian/raidsync/pkg/logger"
)

const testSigningKey = "v9#Kq2!zLm8@Rt5$Wx7&"

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithLevel("error")); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

// testConfig returns a valid config pointing at a stand-in system of record.
func testConfig(peerURL string) *config.Config {
	cfg := config.New()
	cfg.Addr = "127.0.0.1:0"
	cfg.RPCURL = "ws" + strings.TrimPrefix(peerURL, "http")
	cfg.RPCTimeoutMS = 2_000
	cfg.SigningKey = testSigningKey
	cfg.FinalizeWorkers = 2
	cfg.CORSOrigins = []string{"https://app.example"}
	return cfg
}

func upload(handler http.Handler, token string) *httptest.ResponseRecorder {
	body, _ := json.Marshal(testutil.GuardianUpload("p1"))
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(body)
	_ = zw.Close()

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set(api.InflatedLengthHeader, strconv.Itoa(len(body)))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestBuild(t *testing.T) {
	convey.Convey("Given a stand-in system of record", t, func() {
		ctx := context.Background()
		records := testuploads.NewRecords()
		peer := httptest.NewServer(records)
		defer peer.Close()

		convey.Convey("When the process is built with a static signing key", func() {
			cfg := testConfig(peer.URL)
			c, err := build(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			defer c.stop(ctx)

			convey.Convey("Then the RPC channel is connected and health says ok", func() {
				convey.So(c.client.Connected(), convey.ShouldBeTrue)
				w := httptest.NewRecorder()
				c.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, `"status":"ok"`)
			})

			convey.Convey("Then a signed upload is accepted end to end", func() {
				token := auth.Sign(testSigningKey, "", "p1", time.Now().Add(time.Hour))
				w := upload(c.handler, token)
				convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)
				convey.So(c.svc.GetStats()["pending"], convey.ShouldEqual, 1)
			})

			convey.Convey("Then a token signed with another key is refused", func() {
				token := auth.Sign("other-key", "", "p1", time.Now().Add(time.Hour))
				w := upload(c.handler, token)
				convey.So(w.Code, convey.ShouldEqual, http.StatusUnauthorized)
			})

			convey.Convey("Then CORS preflight honours the configured origins", func() {
				req := httptest.NewRequest(http.MethodOptions, "/upload", nil)
				req.Header.Set("Origin", "https://app.example")
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				w := httptest.NewRecorder()
				c.handler.ServeHTTP(w, req)
				convey.So(w.Header().Get("Access-Control-Allow-Origin"), convey.ShouldEqual, "https://app.example")
			})

			convey.Convey("Then the API description is served", func() {
				w := httptest.NewRecorder()
				c.handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/openapi.yaml", nil))
				convey.So(w.Code, convey.ShouldEqual, http.StatusOK)
				convey.So(w.Body.String(), convey.ShouldContainSubstring, "/summaries/{id}")
			})

			convey.Convey("Then service metrics update without panicking", func() {
				convey.So(func() { updateServiceMetrics(c.svc) }, convey.ShouldNotPanic)
			})
		})

		convey.Convey("When secrets live in Redis", func() {
			mr := miniredis.RunT(t)
			cfg := testConfig(peer.URL)
			cfg.SigningKey = ""
			cfg.RedisURL = "redis://" + mr.Addr() + "/0"
			cfg.StoreDriver = "redis"

			src, err := secrets.OpenRedis(ctx, cfg.RedisURL, "")
			convey.So(err, convey.ShouldBeNil)
			convey.So(src.PutSigningKey(ctx, "redis-held-key"), convey.ShouldBeNil)
			convey.So(src.PutSalt(ctx, "p1", "pepper"), convey.ShouldBeNil)
			_ = src.Close()

			c, err := build(ctx, cfg)
			convey.So(err, convey.ShouldBeNil)
			defer c.stop(ctx)

			convey.Convey("Then tokens are verified against the stored key and salt", func() {
				token := auth.Sign("redis-held-key", "pepper", "p1", time.Now().Add(time.Hour))
				w := upload(c.handler, token)
				convey.So(w.Code, convey.ShouldEqual, http.StatusCreated)
			})
		})

		convey.Convey("When the store cannot be reached", func() {
			cfg := testConfig(peer.URL)
			cfg.StoreDriver = "redis"
			cfg.RedisURL = "redis://127.0.0.1:1/0"

			_, err := build(ctx, cfg)

			convey.Convey("Then build fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "open store")
			})
		})
	})
}

func TestRun(t *testing.T) {
	convey.Convey("Given a running process", t, func() {
		records := testuploads.NewRecords()
		peer := httptest.NewServer(records)
		defer peer.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
		defer cancel()

		convey.Convey("Then run returns cleanly once the context ends", func() {
			convey.So(run(ctx, testConfig(peer.URL)), convey.ShouldBeNil)
		})

		convey.Convey("Then runtime collectors can be registered twice", func() {
			convey.So(func() {
				registerRuntimeCollectors()
				registerRuntimeCollectors()
			}, convey.ShouldNotPanic)
		})
	})
}
