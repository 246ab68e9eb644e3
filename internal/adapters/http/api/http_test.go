package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/raidsync/internal/adapters/auth"
	"github.com/okian/raidsync/internal/adapters/http/api"
	"github.com/okian/raidsync/internal/adapters/repository"
	service "github.com/okian/raidsync/internal/app"
	"github.com/okian/raidsync/internal/domain/admission"
	"github.com/okian/raidsync/internal/domain/model"
	"github.com/okian/raidsync/internal/domain/pending"
	"github.com/okian/raidsync/internal/domain/validate"
	"github.com/okian/raidsync/internal/domain/zone"
	"github.com/okian/raidsync/internal/testutil"
	"github.com/okian/raidsync/pkg/logger"
)

func TestMain(m *testing.M) {
	if err := logger.Init(logger.WithLevel("error")); err != nil {
		panic(err)
	}
	os.Exit(m.Run())
}

type mockDependencies struct {
	result    service.UploadResult
	err       error
	gotAuth   string
	gotUpload *model.RawUpload
	summaries map[string]model.Summary
}

func (m *mockDependencies) Upload(_ context.Context, authorization string, raw *model.RawUpload) (service.UploadResult, error) {
	m.gotAuth = authorization
	m.gotUpload = raw
	return m.result, m.err
}

func (m *mockDependencies) Summary(_ context.Context, id string) (model.Summary, error) {
	s, ok := m.summaries[id]
	if !ok {
		return model.Summary{}, fmt.Errorf("%w: summary %s", repository.ErrNotFound, id)
	}
	return s, nil
}

type mockStatsProvider struct {
	stats map[string]interface{}
}

func (m *mockStatsProvider) GetStats() map[string]interface{} {
	return m.stats
}

func compress(data []byte) []byte {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, _ = zw.Write(data)
	_ = zw.Close()
	return buf.Bytes()
}

func uploadRequest(body []byte, inflated int) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/upload", bytes.NewReader(compress(body)))
	req.Header.Set(api.InflatedLengthHeader, strconv.Itoa(inflated))
	req.Header.Set("Authorization", "Bearer tok")
	return req
}

func validBody() []byte {
	data, _ := json.Marshal(testutil.GuardianUpload("p1"))
	return data
}

func decodeError(w *httptest.ResponseRecorder) map[string]string {
	var out map[string]string
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return out
}

func TestServer_Routes(t *testing.T) {
	Convey("Given a registered API server", t, func() {
		deps := &mockDependencies{summaries: map[string]model.Summary{
			"rec-1": {ID: "rec-1", Status: model.StatusProcessing},
		}}
		connected := true
		server := api.NewServer(deps,
			&mockStatsProvider{stats: map[string]interface{}{"pending": 2}},
			api.WithReadinessCheck("rpc", func() bool { return connected }),
		)
		handler := server.Handler()

		serve := func(req *http.Request) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			return w
		}

		Convey("Health reports checks", func() {
			w := serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"ok"`)
			So(w.Body.String(), ShouldContainSubstring, `"rpc":true`)

			connected = false
			w = serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"degraded"`)
		})

		Convey("Metrics are exposed", func() {
			_ = serve(httptest.NewRequest(http.MethodGet, "/stats", nil))
			w := serve(httptest.NewRequest(http.MethodGet, "/metrics", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, "raidsync_ingest_http_requests_total")
		})

		Convey("Stats are served as JSON", func() {
			w := serve(httptest.NewRequest(http.MethodGet, "/stats", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Header().Get("Content-Type"), ShouldStartWith, "application/json")
			So(w.Body.String(), ShouldContainSubstring, `"pending":2`)
		})

		Convey("Summaries are looked up by id", func() {
			w := serve(httptest.NewRequest(http.MethodGet, "/summaries/rec-1", nil))
			So(w.Code, ShouldEqual, http.StatusOK)
			var sum model.Summary
			So(json.Unmarshal(w.Body.Bytes(), &sum), ShouldBeNil)
			So(sum.ID, ShouldEqual, "rec-1")
			So(sum.Status, ShouldEqual, model.StatusProcessing)

			w = serve(httptest.NewRequest(http.MethodGet, "/summaries/nope", nil))
			So(w.Code, ShouldEqual, http.StatusNotFound)
			So(decodeError(w)["code"], ShouldEqual, "not_found")

			w = serve(httptest.NewRequest(http.MethodGet, "/summaries/", nil))
			So(w.Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Request ids are echoed or generated", func() {
			req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
			req.Header.Set(api.RequestIDHeader, "abc")
			So(serve(req).Header().Get(api.RequestIDHeader), ShouldEqual, "abc")

			w := serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
			So(w.Header().Get(api.RequestIDHeader), ShouldHaveLength, 36)
		})

		Convey("Wrong methods are not routed", func() {
			So(serve(httptest.NewRequest(http.MethodGet, "/upload", nil)).Code, ShouldEqual, http.StatusNotFound)
			So(serve(httptest.NewRequest(http.MethodPost, "/stats", nil)).Code, ShouldEqual, http.StatusNotFound)
		})
	})
}

func TestUploadHandler(t *testing.T) {
	Convey("Given an upload handler", t, func() {
		deps := &mockDependencies{result: service.UploadResult{RecordID: "rec-1", Status: "created"}}
		handler := api.NewServer(deps, &mockStatsProvider{}, api.WithMaxBodyBytes(64<<10)).Handler()
		serve := func(req *http.Request) *httptest.ResponseRecorder {
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			return w
		}
		body := validBody()

		Convey("A new aggregation answers 201", func() {
			w := serve(uploadRequest(body, len(body)))
			So(w.Code, ShouldEqual, http.StatusCreated)
			So(w.Body.String(), ShouldContainSubstring, `"id":"rec-1"`)
			So(deps.gotAuth, ShouldEqual, "Bearer tok")
			So(deps.gotUpload.LocalPlayer, ShouldEqual, "p1")
			So(deps.gotUpload.Entities, ShouldHaveLength, 2)
		})

		Convey("A merge answers 200", func() {
			deps.result.Status = "merged"
			w := serve(uploadRequest(body, len(body)))
			So(w.Code, ShouldEqual, http.StatusOK)
			So(w.Body.String(), ShouldContainSubstring, `"status":"merged"`)
		})

		Convey("A missing content length is refused", func() {
			req := uploadRequest(body, len(body))
			req.ContentLength = -1
			So(serve(req).Code, ShouldEqual, http.StatusLengthRequired)
		})

		Convey("Oversized bodies are refused before decompression", func() {
			req := uploadRequest(body, len(body))
			req.ContentLength = 65 << 10
			w := serve(req)
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)

			w = serve(uploadRequest(body, 65<<10))
			So(w.Code, ShouldEqual, http.StatusRequestEntityTooLarge)
			So(deps.gotUpload, ShouldBeNil)
		})

		Convey("A missing inflated length is refused", func() {
			req := uploadRequest(body, len(body))
			req.Header.Del(api.InflatedLengthHeader)
			w := serve(req)
			So(w.Code, ShouldEqual, http.StatusBadRequest)
			So(decodeError(w)["code"], ShouldEqual, "bad_request")
		})

		Convey("A wrong inflated length is refused", func() {
			So(serve(uploadRequest(body, len(body)-1)).Code, ShouldEqual, http.StatusBadRequest)
			So(serve(uploadRequest(body, len(body)+1)).Code, ShouldEqual, http.StatusBadRequest)
		})

		Convey("Bodies that are not gzip or not JSON are refused", func() {
			req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain text"))
			req.Header.Set(api.InflatedLengthHeader, "10")
			So(serve(req).Code, ShouldEqual, http.StatusBadRequest)

			So(serve(uploadRequest([]byte("{nope"), 5)).Code, ShouldEqual, http.StatusBadRequest)
			So(deps.gotUpload, ShouldBeNil)
		})

		Convey("Pipeline errors map to statuses", func() {
			cases := []struct {
				err    error
				status int
				code   string
			}{
				{fmt.Errorf("%w: hp", validate.ErrMalformed), http.StatusBadRequest, "invalid_upload"},
				{fmt.Errorf("%w: damage", validate.ErrImplausible), http.StatusBadRequest, "unsupported_upload"},
				{fmt.Errorf("%w: no boss", zone.ErrUnsupported), http.StatusBadRequest, "unsupported_upload"},
				{auth.ErrMissingToken, http.StatusUnauthorized, "unauthorized"},
				{auth.ErrExpiredToken, http.StatusUnauthorized, "unauthorized"},
				{service.ErrForbidden, http.StatusForbidden, "forbidden"},
				{admission.ErrTooManyUploads, http.StatusTooManyRequests, "too_many_uploads"},
				{service.ErrQuotaExceeded, http.StatusTooManyRequests, "too_many_uploads"},
				{pending.ErrUploaderCap, http.StatusConflict, "aggregation_full"},
				{pending.ErrUploadCap, http.StatusConflict, "aggregation_full"},
				{service.ErrUploadsDisabled, http.StatusServiceUnavailable, "unavailable"},
				{service.ErrEncounterCeiling, http.StatusServiceUnavailable, "unavailable"},
				{fmt.Errorf("%w: timeout", service.ErrUpstream), http.StatusBadGateway, "upstream_error"},
				{errors.New("disk on fire"), http.StatusInternalServerError, "internal_error"},
			}
			for _, tc := range cases {
				deps.err = tc.err
				w := serve(uploadRequest(body, len(body)))
				So(w.Code, ShouldEqual, tc.status)
				So(decodeError(w)["code"], ShouldEqual, tc.code)
			}
		})

		Convey("Unauthorized answers carry a challenge", func() {
			deps.err = auth.ErrInvalidToken
			w := serve(uploadRequest(body, len(body)))
			So(w.Header().Get("WWW-Authenticate"), ShouldEqual, "Bearer")
		})

		Convey("Internal errors do not leak details", func() {
			deps.err = errors.New("secret path /var/lib/x")
			w := serve(uploadRequest(body, len(body)))
			So(w.Body.String(), ShouldNotContainSubstring, "/var/lib/x")
		})
	})
}

func TestError(t *testing.T) {
	Convey("Error exposes its kind and cause", t, func() {
		cause := errors.New("boom")
		err := api.WrapKind("api.op", api.ErrBadRequest, cause)
		So(errors.Is(err, api.ErrBadRequest), ShouldBeTrue)
		So(errors.Is(err, cause), ShouldBeTrue)
		So(err.Error(), ShouldEqual, "api.op: bad request: boom")

		So(api.NewKind("api.op", api.ErrTooLarge).Error(), ShouldEqual, "api.op: payload too large")
	})
}
