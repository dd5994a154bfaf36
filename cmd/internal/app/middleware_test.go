package app

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWithRequestLogging_CapturesStatusAndBytes(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	h := WithRequestLogging(next, log)

	req := httptest.NewRequest(http.MethodGet, "/brew", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusTeapot)
	}

	out := buf.String()
	if !strings.Contains(out, `"status":418`) {
		t.Fatalf("log line missing status: %s", out)
	}
	if !strings.Contains(out, `"path":"/brew"`) {
		t.Fatalf("log line missing path: %s", out)
	}
	if !strings.Contains(out, `"bytes":15`) {
		t.Fatalf("log line missing byte count: %s", out)
	}
}

func TestWithRequestLogging_DefaultsTo200(t *testing.T) {
	t.Parallel()

	var buf strings.Builder
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	WithRequestLogging(next, log).ServeHTTP(rec, req)

	if !strings.Contains(buf.String(), `"status":200`) {
		t.Fatalf("implicit 200 not logged: %s", buf.String())
	}
}
