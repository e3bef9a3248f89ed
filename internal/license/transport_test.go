package license

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"playback-orchestrator/internal/platform/logger"
)

func TestExtractLicense(t *testing.T) {
	tests := []struct {
		name string
		body []byte
		want []byte
	}{
		{"single separator", []byte("GLS/1.0 0 OK\r\nLICENSE"), []byte("LICENSE")},
		{"multiple separators", []byte("GLS/1.0 0 OK\r\nX-Header: 1\r\n\x08\x02\x12"), []byte("\x08\x02\x12")},
		{"no separator", []byte("\x08\x01raw-license"), []byte("\x08\x01raw-license")},
		{"lone CR and LF", []byte("a\rb\nc"), []byte("a\rb\nc")},
		{"separator at end", []byte("header\r\n"), []byte{}},
		{"empty", []byte{}, []byte{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractLicense(tt.body)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("ExtractLicense(%q) = %q, want %q", tt.body, got, tt.want)
			}
		})
	}
}

func TestExtractLicense_idempotent_without_crlf(t *testing.T) {
	once := ExtractLicense([]byte("GLS/1.0 0 OK\r\nLICENSE"))
	twice := ExtractLicense(once)
	if !bytes.Equal(once, twice) {
		t.Errorf("re-extraction changed the license: %q -> %q", once, twice)
	}
}

func TestTransport_Acquire(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != challengeContentType {
			t.Errorf("unexpected content type %q", ct)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "challenge" {
			t.Errorf("unexpected challenge %q", body)
		}
		w.Write([]byte("GLS/1.0 0 OK\r\nX-Status: ok\r\nLICENSE-BYTES"))
	}))
	defer srv.Close()

	tr := NewTransport(srv.Client(), 1, time.Second, logger.Discard())
	got, err := tr.Acquire(context.Background(), srv.URL, []byte("challenge"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if string(got) != "LICENSE-BYTES" {
		t.Errorf("expected extracted license, got %q", got)
	}
}

func TestTransport_Acquire_server_error(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("signature expired"))
	}))
	defer srv.Close()

	tr := NewTransport(srv.Client(), 3, time.Second, logger.Discard())
	_, err := tr.Acquire(context.Background(), srv.URL, []byte("challenge"))

	var serr *ServerError
	if !errors.As(err, &serr) {
		t.Fatalf("expected ServerError, got %v", err)
	}
	if serr.StatusCode != http.StatusForbidden || string(serr.Body) != "signature expired" {
		t.Errorf("unexpected ServerError %d %q", serr.StatusCode, serr.Body)
	}
	if hits.Load() != 1 {
		t.Errorf("4xx must not be retried, got %d hits", hits.Load())
	}
}

func TestTransport_Acquire_retries_5xx(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte("LICENSE"))
	}))
	defer srv.Close()

	tr := NewTransport(srv.Client(), 2, time.Second, logger.Discard())
	tr.initialInterval = time.Millisecond

	got, err := tr.Acquire(context.Background(), srv.URL, []byte("challenge"))
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if string(got) != "LICENSE" || hits.Load() != 2 {
		t.Errorf("expected success on retry, got %q after %d hits", got, hits.Load())
	}
}
