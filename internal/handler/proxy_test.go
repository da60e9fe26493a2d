package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"bridge-proxy-go/internal/client"
	"bridge-proxy-go/internal/config"
	"bridge-proxy-go/internal/service"
)

const trustedOrigin = "https://user-env.trezor.io"

// newTestProxyHandler builds the handler stack against the given bridge host:port.
func newTestProxyHandler(t *testing.T, upstreamHost string) *ProxyHandler {
	t.Helper()
	cfg := &config.Config{
		Upstream: config.UpstreamConfig{
			Host:            upstreamHost,
			Origin:          trustedOrigin,
			TimeoutSeconds:  5,
			IdleConnections: 4,
		},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc, err := service.NewProxyService(client.NewBridgeClient(cfg, logger, nil), cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyService: %v", err)
	}
	return NewProxyHandler(svc, logger)
}

func hostOf(srv *httptest.Server) string {
	return strings.TrimPrefix(srv.URL, "http://")
}

func TestProxyHandler_Write_OriginSpoofing(t *testing.T) {
	var gotHost, gotOrigin, gotBody string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost = r.Host
		gotOrigin = r.Header.Get("Origin")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)

		w.Header().Set("Access-Control-Allow-Origin", trustedOrigin)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`[{"path":"1","vendor":4617,"product":21441,"debug":true,"session":null,"debugSession":null}]`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, hostOf(upstream))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/enumerate", strings.NewReader("{}"))
	req.Header.Set("Content-Length", "2")
	req.Header.Set("Origin", "http://localhost:8001")
	req.Header.Set("Access-Control-Allow-Origin", "http://localhost:8001")
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	if err := h.Write(c); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	if gotHost != hostOf(upstream) {
		t.Errorf("upstream Host = %q, want %q", gotHost, hostOf(upstream))
	}
	if gotOrigin != trustedOrigin {
		t.Errorf("upstream Origin = %q, want %q", gotOrigin, trustedOrigin)
	}
	if gotBody != "{}" {
		t.Errorf("upstream body = %q, want %q", gotBody, "{}")
	}

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:8001" {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "http://localhost:8001")
	}
	if !strings.Contains(rec.Body.String(), `"vendor":4617`) {
		t.Errorf("body = %q, want upstream body", rec.Body.String())
	}
}

func TestProxyHandler_Write_MalformedContentLength(t *testing.T) {
	var gotBody []byte
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, hostOf(upstream))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/listen", strings.NewReader("[]"))
	req.Header.Set("Content-Length", "abc")
	rec := httptest.NewRecorder()

	if err := h.Write(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	if len(gotBody) != 0 {
		t.Errorf("upstream body = %q, want empty", gotBody)
	}
}

func TestProxyHandler_Write_DropsTransferEncoding(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		// Flushing before the body is complete forces chunked framing.
		_, _ = w.Write([]byte(`{"type":`))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte(`"Success"}`))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, hostOf(upstream))

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/call/1", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Write(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if got := rec.Header().Get("Transfer-Encoding"); got != "" {
		t.Errorf("Transfer-Encoding = %q, want none", got)
	}
	if rec.Body.String() != `{"type":"Success"}` {
		t.Errorf("body = %q, want full upstream body", rec.Body.String())
	}
}

func TestProxyHandler_Read_Status(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/status/" {
			t.Errorf("upstream path = %q, want /status/", r.URL.Path)
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Bridge", "2.0.33")
		w.Header().Set("Access-Control-Allow-Origin", trustedOrigin)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>bridge status</html>"))
	}))
	defer upstream.Close()

	h := newTestProxyHandler(t, hostOf(upstream))

	tests := []struct {
		method   string
		wantBody string
	}{
		{http.MethodGet, "<html>bridge status</html>"},
		{http.MethodHead, ""},
	}

	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(tt.method, "/status/", http.NoBody)
			rec := httptest.NewRecorder()

			if err := h.Read(e.NewContext(req, rec)); err != nil {
				t.Fatalf("Read() error = %v", err)
			}
			if rec.Code != http.StatusOK {
				t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
			}
			if got := rec.Header().Get("X-Bridge"); got != "2.0.33" {
				t.Errorf("X-Bridge = %q, want %q", got, "2.0.33")
			}
			if got := rec.Header().Get("Content-Type"); got != "text/html" {
				t.Errorf("Content-Type = %q, want %q", got, "text/html")
			}
			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
				t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, "*")
			}
			if rec.Body.String() != tt.wantBody {
				t.Errorf("body = %q, want %q", rec.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestProxyHandler_Read_UpstreamDown(t *testing.T) {
	h := newTestProxyHandler(t, "127.0.0.1:1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/status/", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Read(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Read() error = %v", err)
	}

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !strings.Contains(body["error"], "/status/") {
		t.Errorf("error = %q, want mention of /status/", body["error"])
	}
	if !strings.Contains(body["error"], "connection refused") {
		t.Errorf("error = %q, want the connection error", body["error"])
	}
}

func TestProxyHandler_Write_UpstreamDown(t *testing.T) {
	h := newTestProxyHandler(t, "127.0.0.1:1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/acquire/1/null", http.NoBody)
	rec := httptest.NewRecorder()

	if err := h.Write(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "Error trying to proxy: /acquire/1/null") {
		t.Errorf("body = %q, want path in message", rec.Body.String())
	}
}

func TestProxyHandler_Write_ShortBody(t *testing.T) {
	h := newTestProxyHandler(t, "127.0.0.1:1")

	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/call/1", strings.NewReader("{"))
	req.Header.Set("Content-Length", "10")
	rec := httptest.NewRecorder()

	if err := h.Write(e.NewContext(req, rec)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	if !strings.Contains(rec.Body.String(), "read request body") {
		t.Errorf("body = %q, want read error", rec.Body.String())
	}
}

func TestProxyHandler_mapError_WrapsPlainErrors(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &ProxyHandler{logger: logger}

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/status/", http.NoBody)
	rec := httptest.NewRecorder()

	err := fmt.Errorf("upstream request: %w", errors.New("EOF"))
	if err := h.mapError(e.NewContext(req, rec), err); err != nil {
		t.Fatalf("mapError() returned error: %v", err)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if want := "Error trying to proxy: /status/ Error: upstream request: EOF"; body["error"] != want {
		t.Errorf("error = %q, want %q", body["error"], want)
	}
}
