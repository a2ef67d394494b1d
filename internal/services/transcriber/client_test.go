package transcriber

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"videoforge/internal/config"
	"videoforge/internal/logging"
)

const sampleSRT = `1
00:00:00,000 --> 00:00:02,500
Welcome to the launch recap.

2
00:00:02,500 --> 00:00:05,000
Today we shipped the new release.
`

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := config.Default()
	cfg.Transcription.BaseURL = server.URL
	cfg.Transcription.APIKey = "test-key"

	client := NewClient(&cfg, logging.NewNop())
	client.backoff = time.Millisecond
	return client
}

func writeAudio(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.wav")
	if err := os.WriteFile(path, []byte("RIFF"), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestTranscribeReturnsSRT(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/transcriptions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("parse multipart: %v", err)
		}
		if got := r.FormValue("response_format"); got != "srt" {
			t.Errorf("response_format = %q", got)
		}
		w.Write([]byte(sampleSRT))
	})

	srt, err := client.Transcribe(context.Background(), writeAudio(t))
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if srt != sampleSRT {
		t.Fatalf("srt = %q", srt)
	}
}

func TestTranscribeRetriesOnServerError(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(sampleSRT))
	})

	if _, err := client.Transcribe(context.Background(), writeAudio(t)); err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestTranscribeDoesNotRetryClientError(t *testing.T) {
	var calls int
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusUnauthorized)
	})

	if _, err := client.Transcribe(context.Background(), writeAudio(t)); err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestParseSRT(t *testing.T) {
	cues, err := ParseSRT(sampleSRT)
	if err != nil {
		t.Fatalf("ParseSRT: %v", err)
	}
	if len(cues) != 2 {
		t.Fatalf("got %d cues", len(cues))
	}
	if cues[0].Start != 0 || cues[0].End != 2500*time.Millisecond {
		t.Fatalf("cue timing = %v -> %v", cues[0].Start, cues[0].End)
	}
	if cues[1].Text != "Today we shipped the new release." {
		t.Fatalf("cue text = %q", cues[1].Text)
	}
}

func TestParseSRTRejectsMalformedTiming(t *testing.T) {
	if _, err := ParseSRT("1\nnot a timing line\nhello\n"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestPlainText(t *testing.T) {
	cues, err := ParseSRT(sampleSRT)
	if err != nil {
		t.Fatal(err)
	}
	got := PlainText(cues)
	want := "Welcome to the launch recap. Today we shipped the new release."
	if got != want {
		t.Fatalf("PlainText = %q, want %q", got, want)
	}
}
