package reconciler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrReconcileBusy is returned when a reconciliation is already in flight.
// Overlapping triggers are discarded rather than queued: a fresh invocation
// will run on the next tick anyway, and queued duplicates only re-race the
// one-open-session invariant.
var ErrReconcileBusy = errors.New("reconciliation already in progress")

// Reconciler compares the upstream now-playing snapshot against stored
// session state and applies the minimal corrective mutation. It is
// level-triggered and idempotent: missed and duplicate invocations are
// equally harmless.
type Reconciler struct {
	client NowPlayingClient
	store  Store
	log    *slog.Logger

	mu sync.Mutex
}

// NewReconciler returns a Reconciler using the given client and store.
func NewReconciler(client NowPlayingClient, store Store, log *slog.Logger) *Reconciler {
	return &Reconciler{client: client, store: store, log: log}
}

// Reconcile runs one reconciliation pass:
//
//	stream offline            -> close every open session
//	live, attributed, open    -> ratchet the session's peak listeners
//	live, attributed, no open -> open a new session
//	live, unattributable      -> log and leave the store untouched
//
// Upstream and store failures abort the pass with no mutation; the returned
// error wraps the cause and the result carries it for trigger callers.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileResult, error) {
	if !r.mu.TryLock() {
		return failure(ErrReconcileBusy), ErrReconcileBusy
	}
	defer r.mu.Unlock()

	snap, err := r.client.FetchSnapshot(ctx)
	if err != nil {
		err = fmt.Errorf("fetch snapshot: %w", err)
		return failure(err), err
	}

	if !snap.IsLive {
		closed, err := r.store.CloseAllOpenSessions(ctx)
		if err != nil {
			err = fmt.Errorf("close open sessions: %w", err)
			return failure(err), err
		}
		if closed > 0 {
			r.log.Info("stream offline, closed open sessions", slog.Int("closed", closed))
		}
		return ReconcileResult{Success: true, SessionsClosed: closed}, nil
	}

	encoders, err := r.store.ActiveEncoders(ctx)
	if err != nil {
		err = fmt.Errorf("load active encoders: %w", err)
		return failure(err), err
	}

	match, ok := Resolve(snap.StreamerName, encoders)
	if !ok {
		// Live but unattributable. Do not guess; an operator can check the
		// logs and fix the registration.
		r.log.Warn("live stream could not be attributed to a registered encoder",
			slog.String("streamer_name", snap.StreamerName),
			slog.Int("active_encoders", len(encoders)))
		return ReconcileResult{Success: true, IsLive: true, StreamerName: snap.StreamerName}, nil
	}

	result := ReconcileResult{Success: true, IsLive: true, StreamerName: snap.StreamerName, Matched: true}

	open, err := r.store.FindOpenSession(ctx, match.UserID)
	if err != nil {
		err = fmt.Errorf("find open session: %w", err)
		return failure(err), err
	}

	if open == nil {
		sess, err := r.store.OpenSession(ctx, match.UserID, match.EncoderID, snap.Listeners)
		if errors.Is(err, ErrSessionOpen) {
			// Lost the race to a concurrent invocation; fall through to the
			// ratchet as if we had seen the session in the first place.
			open, err = r.store.FindOpenSession(ctx, match.UserID)
			if err != nil {
				err = fmt.Errorf("find open session after insert race: %w", err)
				return failure(err), err
			}
		} else if err != nil {
			err = fmt.Errorf("open session: %w", err)
			return failure(err), err
		} else {
			r.log.Info("opened live session",
				slog.Int64("user_id", int64(match.UserID)),
				slog.String("username", match.Username),
				slog.String("session_id", string(sess.ID)),
				slog.Int("listeners", snap.Listeners))
			result.SessionOpened = true
			return result, nil
		}
	}

	if open != nil {
		if err := r.store.RatchetPeak(ctx, open.ID, snap.Listeners); err != nil {
			err = fmt.Errorf("ratchet peak: %w", err)
			return failure(err), err
		}
		if snap.Listeners > open.ListenersPeak {
			r.log.Debug("raised peak listeners",
				slog.String("session_id", string(open.ID)),
				slog.Int("listeners", snap.Listeners))
		}
	}

	return result, nil
}

func failure(err error) ReconcileResult {
	return ReconcileResult{Error: err.Error()}
}
