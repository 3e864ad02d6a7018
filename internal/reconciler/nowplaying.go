package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrUpstreamUnavailable is returned when the now-playing API could not be
// reached, timed out, answered with a non-2xx status, or returned a body the
// client could not interpret. The reconciler treats all of these the same
// way: no session state is touched.
var ErrUpstreamUnavailable = errors.New("now-playing upstream unavailable")

// NowPlayingClient retrieves the current stream state from the broadcast
// backend.
type NowPlayingClient interface {
	FetchSnapshot(ctx context.Context) (NowPlayingSnapshot, error)
}

// HTTPNowPlayingClient fetches snapshots from
// GET <baseURL>/nowplaying/<stationID>, authenticating with an optional
// X-API-Key header.
type HTTPNowPlayingClient struct {
	baseURL   string
	stationID string
	apiKey    string
	client    *http.Client
}

// NewHTTPNowPlayingClient returns a client with the given request timeout.
// A timeout <= 0 disables the client-side deadline.
func NewHTTPNowPlayingClient(baseURL, stationID, apiKey string, timeout time.Duration) *HTTPNowPlayingClient {
	return &HTTPNowPlayingClient{
		baseURL:   baseURL,
		stationID: stationID,
		apiKey:    apiKey,
		client:    &http.Client{Timeout: timeout},
	}
}

// nowPlayingResponse mirrors the subset of the upstream payload the
// reconciler depends on. is_live is required; a payload without it is
// rejected rather than read as "offline".
type nowPlayingResponse struct {
	Live struct {
		IsLive       *bool  `json:"is_live"`
		StreamerName string `json:"streamer_name"`
	} `json:"live"`
	Listeners struct {
		Current int `json:"current"`
	} `json:"listeners"`
	NowPlaying struct {
		Song struct {
			Title  string `json:"title"`
			Artist string `json:"artist"`
		} `json:"song"`
	} `json:"now_playing"`
}

// FetchSnapshot implements NowPlayingClient.
func (c *HTTPNowPlayingClient) FetchSnapshot(ctx context.Context) (NowPlayingSnapshot, error) {
	url := fmt.Sprintf("%s/nowplaying/%s", c.baseURL, c.stationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return NowPlayingSnapshot{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return NowPlayingSnapshot{}, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return NowPlayingSnapshot{}, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
	}

	var body nowPlayingResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return NowPlayingSnapshot{}, fmt.Errorf("%w: decode: %v", ErrUpstreamUnavailable, err)
	}
	if body.Live.IsLive == nil {
		return NowPlayingSnapshot{}, fmt.Errorf("%w: payload missing live.is_live", ErrUpstreamUnavailable)
	}

	// streamer_name is read verbatim; normalization happens in Resolve.
	return NowPlayingSnapshot{
		IsLive:       *body.Live.IsLive,
		StreamerName: body.Live.StreamerName,
		Listeners:    body.Listeners.Current,
		TrackTitle:   body.NowPlaying.Song.Title,
		TrackArtist:  body.NowPlaying.Song.Artist,
	}, nil
}
