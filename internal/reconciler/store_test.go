package reconciler

import (
	"context"
	"errors"
	"testing"
)

func TestInMemoryStore_OpenSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	sess, err := store.OpenSession(ctx, 7, "enc-7", 12)
	if err != nil {
		t.Fatalf("OpenSession: %v", err)
	}
	if sess.ID == "" {
		t.Error("session should get a surrogate id")
	}
	if !sess.IsLive || sess.EndedAt != nil {
		t.Errorf("new session should be open: is_live=%v ended_at=%v", sess.IsLive, sess.EndedAt)
	}
	if sess.ListenersPeak != 12 {
		t.Errorf("initial peak should be 12, got %d", sess.ListenersPeak)
	}

	t.Run("second_open_rejected", func(t *testing.T) {
		_, err := store.OpenSession(ctx, 7, "enc-7", 1)
		if !errors.Is(err, ErrSessionOpen) {
			t.Errorf("expected ErrSessionOpen, got %v", err)
		}
	})

	t.Run("other_user_unaffected", func(t *testing.T) {
		if _, err := store.OpenSession(ctx, 8, "enc-8", 0); err != nil {
			t.Errorf("user 8 should be able to open: %v", err)
		}
	})
}

func TestInMemoryStore_FindOpenSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	got, err := store.FindOpenSession(ctx, 7)
	if err != nil || got != nil {
		t.Errorf("empty store: got %v, err %v", got, err)
	}

	opened, _ := store.OpenSession(ctx, 7, "enc-7", 0)
	got, err = store.FindOpenSession(ctx, 7)
	if err != nil {
		t.Fatalf("FindOpenSession: %v", err)
	}
	if got == nil || got.ID != opened.ID {
		t.Errorf("expected session %v, got %v", opened.ID, got)
	}
}

func TestInMemoryStore_RatchetPeak_monotonic(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	sess, _ := store.OpenSession(ctx, 3, "enc-3", 30)

	for _, observed := range []int{42, 10, 42, 0, 41} {
		if err := store.RatchetPeak(ctx, sess.ID, observed); err != nil {
			t.Fatalf("RatchetPeak(%d): %v", observed, err)
		}
	}

	got, _ := store.FindOpenSession(ctx, 3)
	if got.ListenersPeak != 42 {
		t.Errorf("peak should ratchet to 42 and never drop, got %d", got.ListenersPeak)
	}
}

func TestInMemoryStore_RatchetPeak_unknown_session(t *testing.T) {
	store := NewInMemoryStore()
	if err := store.RatchetPeak(context.Background(), SessionID("missing"), 5); err != nil {
		t.Errorf("ratchet on unknown session should be a no-op: %v", err)
	}
}

func TestInMemoryStore_CloseAllOpenSessions(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	_, _ = store.OpenSession(ctx, 1, "enc-1", 0)
	_, _ = store.OpenSession(ctx, 2, "enc-2", 0)

	closed, err := store.CloseAllOpenSessions(ctx)
	if err != nil {
		t.Fatalf("CloseAllOpenSessions: %v", err)
	}
	if closed != 2 {
		t.Errorf("expected 2 closed, got %d", closed)
	}

	for _, userID := range []UserID{1, 2} {
		if open, _ := store.FindOpenSession(ctx, userID); open != nil {
			t.Errorf("user %d should have no open session", userID)
		}
	}
	history, _ := store.SessionHistory(ctx, 1)
	if len(history) != 1 || history[0].IsLive || history[0].EndedAt == nil {
		t.Errorf("closed session should have is_live=false and ended_at set: %+v", history)
	}

	t.Run("idempotent_second_call", func(t *testing.T) {
		closed, err := store.CloseAllOpenSessions(ctx)
		if err != nil || closed != 0 {
			t.Errorf("second close should be a no-op: closed=%d err=%v", closed, err)
		}
	})
}

func TestInMemoryStore_CurrentLiveSession(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	got, err := store.CurrentLiveSession(ctx)
	if err != nil || got != nil {
		t.Errorf("no live session expected: got %v err %v", got, err)
	}

	opened, _ := store.OpenSession(ctx, 4, "enc-4", 7)
	got, _ = store.CurrentLiveSession(ctx)
	if got == nil || got.ID != opened.ID {
		t.Errorf("expected current live session %v, got %v", opened.ID, got)
	}
}

func TestInMemoryStore_SessionHistory_most_recent_first(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	first, _ := store.OpenSession(ctx, 5, "enc-5", 0)
	_, _ = store.CloseAllOpenSessions(ctx)
	second, _ := store.OpenSession(ctx, 5, "enc-5", 0)
	_, _ = store.CloseAllOpenSessions(ctx)
	_, _ = store.OpenSession(ctx, 6, "enc-6", 0)

	history, err := store.SessionHistory(ctx, 5)
	if err != nil {
		t.Fatalf("SessionHistory: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 sessions for user 5, got %d", len(history))
	}
	if history[0].ID != second.ID || history[1].ID != first.ID {
		t.Errorf("history should be most recent first: %v then %v", history[0].ID, history[1].ID)
	}
}

func TestInMemoryStore_ActiveEncoders_order_and_filter(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()
	store.AddEncoder(EncoderRegistration{UserID: 1, Username: "alpha", EncoderID: "enc-1", Active: true})
	store.AddEncoder(EncoderRegistration{UserID: 2, Username: "beta", EncoderID: "enc-2", Active: false})
	store.AddEncoder(EncoderRegistration{UserID: 3, Username: "gamma", EncoderID: "enc-3", Active: true})

	encoders, err := store.ActiveEncoders(ctx)
	if err != nil {
		t.Fatalf("ActiveEncoders: %v", err)
	}
	if len(encoders) != 2 {
		t.Fatalf("expected 2 active encoders, got %d", len(encoders))
	}
	if encoders[0].Username != "alpha" || encoders[1].Username != "gamma" {
		t.Errorf("encoders should keep registration order: %+v", encoders)
	}
}

func TestInMemoryStore_OpenSessionCount(t *testing.T) {
	ctx := context.Background()
	store := NewInMemoryStore()

	_, _ = store.OpenSession(ctx, 1, "enc-1", 0)
	_, _ = store.OpenSession(ctx, 2, "enc-2", 0)
	if n, _ := store.OpenSessionCount(ctx); n != 2 {
		t.Errorf("expected 2 open, got %d", n)
	}

	_, _ = store.CloseAllOpenSessions(ctx)
	if n, _ := store.OpenSessionCount(ctx); n != 0 {
		t.Errorf("expected 0 open after close, got %d", n)
	}
}
