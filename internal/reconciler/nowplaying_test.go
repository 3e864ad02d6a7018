package reconciler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestHTTPNowPlayingClient_FetchSnapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/nowplaying/7" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"live": {"is_live": true, "streamer_name": "DJResin"},
			"listeners": {"current": 42},
			"now_playing": {"song": {"title": "Skyline", "artist": "Resin"}}
		}`))
	}))
	defer srv.Close()

	client := NewHTTPNowPlayingClient(srv.URL, "7", "", 5*time.Second)
	snap, err := client.FetchSnapshot(context.Background())
	if err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if !snap.IsLive || snap.StreamerName != "DJResin" || snap.Listeners != 42 {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
	if snap.TrackTitle != "Skyline" || snap.TrackArtist != "Resin" {
		t.Errorf("track metadata not read: %+v", snap)
	}
}

func TestHTTPNowPlayingClient_sends_api_key(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey = r.Header.Get("X-API-Key")
		_, _ = w.Write([]byte(`{"live": {"is_live": false}, "listeners": {"current": 0}}`))
	}))
	defer srv.Close()

	client := NewHTTPNowPlayingClient(srv.URL, "1", "s3cret", 5*time.Second)
	if _, err := client.FetchSnapshot(context.Background()); err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if gotKey != "s3cret" {
		t.Errorf("expected X-API-Key header, got %q", gotKey)
	}
}

func TestHTTPNowPlayingClient_no_api_key_header_when_unset(t *testing.T) {
	var hasKey bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasKey = r.Header["X-Api-Key"]
		_, _ = w.Write([]byte(`{"live": {"is_live": false}, "listeners": {"current": 0}}`))
	}))
	defer srv.Close()

	client := NewHTTPNowPlayingClient(srv.URL, "1", "", 5*time.Second)
	if _, err := client.FetchSnapshot(context.Background()); err != nil {
		t.Fatalf("FetchSnapshot: %v", err)
	}
	if hasKey {
		t.Error("X-API-Key must not be sent when no key is configured")
	}
}

func TestHTTPNowPlayingClient_non_2xx_is_upstream_unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewHTTPNowPlayingClient(srv.URL, "1", "", 5*time.Second)
	_, err := client.FetchSnapshot(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable, got %v", err)
	}
}

func TestHTTPNowPlayingClient_malformed_body(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	client := NewHTTPNowPlayingClient(srv.URL, "1", "", 5*time.Second)
	_, err := client.FetchSnapshot(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable for garbage body, got %v", err)
	}
}

func TestHTTPNowPlayingClient_missing_is_live_rejected(t *testing.T) {
	// A payload without live.is_live must be a failure, never read as
	// "offline".
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"listeners": {"current": 10}}`))
	}))
	defer srv.Close()

	client := NewHTTPNowPlayingClient(srv.URL, "1", "", 5*time.Second)
	_, err := client.FetchSnapshot(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable for partial payload, got %v", err)
	}
}

func TestHTTPNowPlayingClient_unreachable_host(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close() // nothing listening anymore

	client := NewHTTPNowPlayingClient(srv.URL, "1", "", time.Second)
	_, err := client.FetchSnapshot(context.Background())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Errorf("expected ErrUpstreamUnavailable for connection failure, got %v", err)
	}
}
