package handler

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/bytedance/sonic"

	"github.com/SYED-TAHER/mobile-dev/internal/logger"
	"github.com/SYED-TAHER/mobile-dev/internal/modelhost"
	"github.com/SYED-TAHER/mobile-dev/internal/models"
	"github.com/SYED-TAHER/mobile-dev/internal/service"
)

type stubCaptioner struct {
	calls atomic.Int32
}

func (c *stubCaptioner) Caption(ctx context.Context, img image.Image) (string, error) {
	c.calls.Add(1)
	return "a red square", nil
}

func (c *stubCaptioner) Close() error { return nil }

type testServer struct {
	handler   http.Handler
	host      *modelhost.Host
	captioner *stubCaptioner
}

func newTestServer(t *testing.T, maxUploadBytes int64) *testServer {
	t.Helper()
	captioner := &stubCaptioner{}
	host := modelhost.New("test/artifact", modelhost.LoaderFunc(func(ctx context.Context, id string) (modelhost.Captioner, error) {
		return captioner, nil
	}), logger.Discard())
	t.Cleanup(func() { _ = host.Close() })

	svc := service.NewCaptionService(logger.Discard(), host, 0)
	return &testServer{
		handler:   NewRouter(NewUploadHandler(svc, maxUploadBytes), 0),
		host:      host,
		captioner: captioner,
	}
}

func redPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 255, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// multipartBody builds a form with one file part per entry in files.
func multipartBody(t *testing.T, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for field, data := range files {
		fw, err := mw.CreateFormFile(field, field+".png")
		if err != nil {
			t.Fatalf("create form file: %v", err)
		}
		if _, err := fw.Write(data); err != nil {
			t.Fatalf("write form file: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (s *testServer) post(t *testing.T, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp models.ErrorResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error body %q: %v", rec.Body.String(), err)
	}
	return resp.Error
}

func TestUploadCaptionsImage(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 0)

	body, ct := multipartBody(t, map[string][]byte{"image": redPNG(t, 64, 64)})
	rec := s.post(t, body, ct)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Type"); got != "application/json" {
		t.Fatalf("Content-Type = %q", got)
	}
	var resp models.CaptionResponse
	if err := sonic.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Description == "" {
		t.Fatal("empty description")
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("missing X-Request-ID header")
	}
}

func TestUploadMissingImageField(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 0)

	body, ct := multipartBody(t, map[string][]byte{"photo": redPNG(t, 4, 4)})
	rec := s.post(t, body, ct)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := rec.Body.String(); got != `{"error":"No image file provided"}` {
		t.Fatalf("body = %s", got)
	}
	if s.host.Loads() != 0 {
		t.Fatal("missing input must not load the model")
	}
}

func TestUploadNonMultipartBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 0)

	rec := s.post(t, strings.NewReader(`{"image":"x"}`), "application/json")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := decodeError(t, rec); got != models.MissingImageMessage {
		t.Fatalf("error = %q", got)
	}
}

func TestUploadEmptyFile(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 0)

	body, ct := multipartBody(t, map[string][]byte{"image": {}})
	rec := s.post(t, body, ct)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if decodeError(t, rec) == "" {
		t.Fatal("empty error message")
	}
	if s.captioner.calls.Load() != 0 {
		t.Fatal("model invoked for an empty file")
	}
}

func TestUploadGarbageBytes(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 0)

	body, ct := multipartBody(t, map[string][]byte{"image": []byte("definitely not an image")})
	rec := s.post(t, body, ct)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if s.captioner.calls.Load() != 0 {
		t.Fatal("model invoked for an undecodable file")
	}
}

func TestUploadOversizedBody(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 1024)

	body, ct := multipartBody(t, map[string][]byte{"image": bytes.Repeat([]byte{0xff}, 4096)})
	rec := s.post(t, body, ct)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if got := decodeError(t, rec); !strings.Contains(got, "exceeds") {
		t.Fatalf("error = %q", got)
	}
}

func TestUploadLoadsModelOnce(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 0)

	for i := 0; i < 2; i++ {
		body, ct := multipartBody(t, map[string][]byte{"image": redPNG(t, 16, 16)})
		if rec := s.post(t, body, ct); rec.Code != http.StatusOK {
			t.Fatalf("upload #%d status = %d, body %s", i, rec.Code, rec.Body.String())
		}
	}
	if got := s.host.Loads(); got != 1 {
		t.Fatalf("Loads() = %d, want 1", got)
	}
	if got := s.captioner.calls.Load(); got != 2 {
		t.Fatalf("captions = %d, want 2", got)
	}
}

func TestUploadAllowsAnyOrigin(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 0)

	body, ct := multipartBody(t, map[string][]byte{"image": redPNG(t, 8, 8)})
	rec := s.post(t, body, ct)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestUploadRejectsOtherMethods(t *testing.T) {
	t.Parallel()
	s := newTestServer(t, 0)

	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", rec.Code)
	}
}

func TestAdminRouterServesMetrics(t *testing.T) {
	t.Parallel()

	rec := httptest.NewRecorder()
	NewAdminRouter().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_goroutines") {
		t.Fatal("metrics output has no runtime series")
	}
}
