package shared

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/charmbracelet/log"
)

func TestNormalizeTrackKey(t *testing.T) {
	tc := []struct {
		name   string
		title  string
		artist string
		want   string
	}{
		{
			name:   "basic normalization",
			title:  "Song Title",
			artist: "Artist Name",
			want:   "song title|artist name",
		},
		{
			name:   "extra whitespace",
			title:  "  Song   Title  ",
			artist: "  Artist \t Name  ",
			want:   "song title|artist name",
		},
		{
			name:   "mixed case",
			title:  "SoNg TiTlE",
			artist: "ArTiSt NaMe",
			want:   "song title|artist name",
		},
		{
			name:   "empty artist",
			title:  "Untitled",
			artist: "",
			want:   "untitled|",
		},
	}

	for _, tt := range tc {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeTrackKey(tt.title, tt.artist)
			if got != tt.want {
				t.Errorf("NormalizeTrackKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFormatDuration(t *testing.T) {
	tc := []struct {
		in   time.Duration
		want string
	}{
		{0, "0:00"},
		{-time.Second, "0:00"},
		{65 * time.Second, "1:05"},
		{3*time.Minute + 29*time.Second + 600*time.Millisecond, "3:30"},
		{time.Hour + 2*time.Minute + 3*time.Second, "1:02:03"},
	}

	for _, tt := range tc {
		t.Run(tt.want, func(t *testing.T) {
			if got := FormatDuration(tt.in); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	if got := ParseLogLevel("DEBUG"); got != log.DebugLevel {
		t.Errorf("expected debug level, got %v", got)
	}
	if got := ParseLogLevel(""); got != log.InfoLevel {
		t.Errorf("expected info level for empty string, got %v", got)
	}
	if got := ParseLogLevel("loud"); got != log.InfoLevel {
		t.Errorf("expected info level for unknown string, got %v", got)
	}
}

func TestBackoff(t *testing.T) {
	b := Backoff{MaxRetries: 3, InitialWait: 100 * time.Millisecond, MaxWait: time.Second, Multiplier: 2}

	t.Run("Delay grows exponentially and is capped", func(t *testing.T) {
		want := []time.Duration{0, 100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 800 * time.Millisecond, time.Second}
		for attempt, w := range want {
			if got := b.Delay(attempt); got != w {
				t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
			}
		}
	})

	t.Run("RetryAfter honors header", func(t *testing.T) {
		h := http.Header{}
		h.Set("Retry-After", "0")
		if got := b.RetryAfter(h, 2); got != 0 {
			t.Errorf("expected 0 wait, got %v", got)
		}

		h.Set("Retry-After", "120")
		if got := b.RetryAfter(h, 1); got != time.Second {
			t.Errorf("expected wait capped to 1s, got %v", got)
		}
	})

	t.Run("RetryAfter falls back to Delay", func(t *testing.T) {
		if got := b.RetryAfter(http.Header{}, 2); got != 200*time.Millisecond {
			t.Errorf("expected 200ms, got %v", got)
		}
	})

	t.Run("Sleep stops on cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if err := Sleep(ctx, time.Minute); !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got %v", err)
		}
	})
}
