package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/hazyhaar/snapline/imaging"
	"github.com/hazyhaar/snapline/kit"
	"github.com/hazyhaar/snapline/kvstore"
	"github.com/hazyhaar/snapline/timeline"
	"github.com/hazyhaar/snapline/vision"
)

func TestWriteMapped(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{fmt.Errorf("%w: bad", timeline.ErrInvalidInput), 400},
		{fmt.Errorf("%w: junk", imaging.ErrDecode), 422},
		{fmt.Errorf("%w: full", kvstore.ErrQuotaExceeded), 507},
		{vision.ErrTimeout, 504},
		{vision.ErrUpstream, 502},
		{vision.ErrBadPayload, 502},
		{errors.New("mystery"), 500},
	}
	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeMapped(rec, tc.err)
		if rec.Code != tc.code {
			t.Errorf("writeMapped(%v): got %d, want %d", tc.err, rec.Code, tc.code)
		}
		if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
			t.Errorf("content type: %q", ct)
		}
	}
}

func TestRequestContext_TagsRequests(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	var gotID, gotTransport string
	handler := requestContext(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotID = kit.GetRequestID(r.Context())
		gotTransport = kit.GetTransport(r.Context())
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest("GET", "/api/timelines", nil))

	if gotID == "" {
		t.Error("no request id in handler context")
	}
	if gotTransport != "http" {
		t.Errorf("transport = %q, want http", gotTransport)
	}

	// Each request gets its own id.
	first := gotID
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/health", nil))
	if gotID == first {
		t.Error("request id reused across requests")
	}
}

func TestLoadConfig_FileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
port: "9001"
db_path: from-file.db
vision:
  model: gpt-4o
storage:
  ceiling: 2097152
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("PORT", "9002")
	t.Setenv("SNAPLINE_DB", "")
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9002" {
		t.Errorf("env override lost: port %q", cfg.Port)
	}
	if cfg.DBPath != "from-file.db" {
		t.Errorf("db path: %q", cfg.DBPath)
	}
	if cfg.Vision.Model != "gpt-4o" {
		t.Errorf("vision config: %+v", cfg.Vision)
	}
	if cfg.Storage.Ceiling != 2097152 {
		t.Errorf("ceiling: %d", cfg.Storage.Ceiling)
	}
	if cfg.Vision.APIKey != "sk-test" || cfg.Synth.APIKey != "sk-test" {
		t.Errorf("api key propagation: vision=%q synth=%q", cfg.Vision.APIKey, cfg.Synth.APIKey)
	}
}

func TestLoadConfig_MissingFileFails(t *testing.T) {
	if _, err := loadConfig("/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("SNAPLINE_DB", "")
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8086" || cfg.DBPath != "data/snapline.db" {
		t.Errorf("defaults: %+v", cfg)
	}
}
