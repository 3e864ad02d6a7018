package reconciler

import "time"

// UserID identifies a staff user who owns encoder credentials.
type UserID int64

// SessionID uniquely identifies a live session record.
type SessionID string

// LiveSession is one broadcast attempt by a user. A session is "open" while
// IsLive is true and EndedAt is nil; at most one open session may exist per
// user at any time.
type LiveSession struct {
	ID            SessionID  `json:"id"`
	UserID        UserID     `json:"user_id"`
	EncoderID     string     `json:"encoder_id"`
	IsLive        bool       `json:"is_live"`
	StartedAt     time.Time  `json:"started_at"`
	EndedAt       *time.Time `json:"ended_at"`
	ListenersPeak int        `json:"listeners_peak"`
}

// EncoderRegistration is a broadcasting credential registered to a user.
// Registrations are managed elsewhere; the reconciler only reads them.
type EncoderRegistration struct {
	ID        int64
	UserID    UserID
	Username  string
	EncoderID string
	Active    bool
}

// NowPlayingSnapshot is a point-in-time read of the upstream broadcast API.
// It is fetched fresh on every reconciliation and never cached.
type NowPlayingSnapshot struct {
	IsLive       bool
	StreamerName string
	Listeners    int
	TrackTitle   string
	TrackArtist  string
}

// ReconcileResult is the outcome of one reconciliation pass.
// The JSON shape is what trigger callers (scheduler, admin UI) receive.
type ReconcileResult struct {
	Success      bool   `json:"success"`
	IsLive       bool   `json:"isLive"`
	StreamerName string `json:"streamerName,omitempty"`
	Error        string `json:"error,omitempty"`

	// Mutation bookkeeping for metrics and logs (not exposed in the API).
	Matched        bool `json:"-"`
	SessionOpened  bool `json:"-"`
	SessionsClosed int  `json:"-"`
}
