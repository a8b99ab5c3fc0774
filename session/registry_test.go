package session

import (
	"context"
	"errors"
	"testing"

	"github.com/castwatch/buzz-tender/backend/platform"
	"github.com/castwatch/buzz-tender/backend/testutil"
)

// fakePlatform resolves every URL to a fixed stream.
type fakePlatform struct {
	info       platform.StreamInfo
	resolveErr error
}

func (f *fakePlatform) ResolveStream(ctx context.Context, url string) (platform.StreamInfo, error) {
	if f.resolveErr != nil {
		return platform.StreamInfo{}, f.resolveErr
	}
	return f.info, nil
}

func (f *fakePlatform) FetchPage(ctx context.Context, chatChannelID, cursor string, limit int) (platform.Page, error) {
	return platform.Page{}, nil
}

func (f *fakePlatform) PostMessage(ctx context.Context, chatChannelID, text string) error {
	return nil
}

func TestStartSessionSupersedesPrevious(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CleanupSession(t, db, "mod-1")
	ctx := context.Background()

	fp := &fakePlatform{info: platform.StreamInfo{VideoID: "vid-1", ChatChannelID: "chat-1", Title: "First"}}
	reg := NewRegistry(db, fp)

	first, err := reg.StartSession(ctx, "mod-1", "https://youtu.be/vid-1")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if !first.Active || first.ChatChannelID != "chat-1" {
		t.Fatalf("unexpected first session: %+v", first)
	}

	// Leave some open work on the first stream.
	if _, err := db.ExecContext(ctx,
		`INSERT INTO buzz_items (session_id, kind, original_text, status, created_at) VALUES ('mod-1','QUESTION','old question','FOUND',NOW())`); err != nil {
		t.Fatalf("seed buzz item: %v", err)
	}
	if _, err := db.ExecContext(ctx,
		`INSERT INTO reply_records (session_id, chat_channel_id, text, write_state, created_at) VALUES ('mod-1','chat-1','old note','NOT_WRITTEN',NOW())`); err != nil {
		t.Fatalf("seed reply: %v", err)
	}

	fp.info = platform.StreamInfo{VideoID: "vid-2", ChatChannelID: "chat-2", Title: "Second"}
	second, err := reg.StartSession(ctx, "mod-1", "https://youtu.be/vid-2")
	if err != nil {
		t.Fatalf("StartSession second: %v", err)
	}
	if second.ChatChannelID != "chat-2" {
		t.Fatalf("unexpected second session: %+v", second)
	}

	active, err := reg.GetActiveSession(ctx, "mod-1")
	if err != nil {
		t.Fatalf("GetActiveSession: %v", err)
	}
	if active.VideoID != "vid-2" {
		t.Errorf("active video = %q, want vid-2", active.VideoID)
	}

	var activeCount int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM stream_sessions WHERE session_id='mod-1' AND is_active`).Scan(&activeCount); err != nil {
		t.Fatal(err)
	}
	if activeCount != 1 {
		t.Errorf("active session rows = %d, want 1", activeCount)
	}

	// The cascade closed the first stream's open work.
	var itemStatus, replyState string
	if err := db.QueryRowContext(ctx,
		`SELECT status FROM buzz_items WHERE session_id='mod-1'`).Scan(&itemStatus); err != nil {
		t.Fatal(err)
	}
	if itemStatus != "INACTIVE" {
		t.Errorf("stale buzz item status = %q, want INACTIVE", itemStatus)
	}
	if err := db.QueryRowContext(ctx,
		`SELECT write_state FROM reply_records WHERE session_id='mod-1'`).Scan(&replyState); err != nil {
		t.Fatal(err)
	}
	if replyState != "WRITTEN" {
		t.Errorf("stale reply state = %q, want WRITTEN", replyState)
	}
}

func TestStartSessionInvalidLink(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CleanupSession(t, db, "mod-2")

	fp := &fakePlatform{resolveErr: &platform.InvalidLinkError{URL: "bad", Reason: "not a url"}}
	reg := NewRegistry(db, fp)

	_, err := reg.StartSession(context.Background(), "mod-2", "bad")
	var il *platform.InvalidLinkError
	if !errors.As(err, &il) {
		t.Fatalf("expected InvalidLinkError, got %v", err)
	}
	// A failed resolve must not leave a session row behind.
	if _, err := reg.GetActiveSession(context.Background(), "mod-2"); !errors.As(err, new(*platform.NoActiveStreamError)) {
		t.Fatalf("expected NoActiveStreamError, got %v", err)
	}
}

func TestGetActiveSessionNone(t *testing.T) {
	db := testutil.SetupTestDB(t)

	reg := NewRegistry(db, &fakePlatform{})
	_, err := reg.GetActiveSession(context.Background(), "mod-never-started")
	var na *platform.NoActiveStreamError
	if !errors.As(err, &na) {
		t.Fatalf("expected NoActiveStreamError, got %v", err)
	}
}

func TestAdvanceCursorOnlyWhileActive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CleanupSession(t, db, "mod-3")
	ctx := context.Background()

	fp := &fakePlatform{info: platform.StreamInfo{VideoID: "vid-3", ChatChannelID: "chat-3"}}
	reg := NewRegistry(db, fp)
	if _, err := reg.StartSession(ctx, "mod-3", "any"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	if err := reg.AdvanceCursor(ctx, "chat-3", "cursor-42"); err != nil {
		t.Fatalf("AdvanceCursor: %v", err)
	}
	s, err := reg.GetActiveSession(ctx, "mod-3")
	if err != nil {
		t.Fatal(err)
	}
	if s.Cursor != "cursor-42" {
		t.Errorf("cursor = %q, want cursor-42", s.Cursor)
	}

	if err := reg.Deactivate(ctx, "mod-3"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	// Advancing after deactivation is a silent no-op.
	if err := reg.AdvanceCursor(ctx, "chat-3", "cursor-43"); err != nil {
		t.Fatalf("AdvanceCursor after deactivate: %v", err)
	}
	var cursor string
	if err := db.QueryRowContext(ctx,
		`SELECT cursor FROM stream_sessions WHERE session_id='mod-3'`).Scan(&cursor); err != nil {
		t.Fatal(err)
	}
	if cursor != "cursor-42" {
		t.Errorf("cursor moved on inactive session: %q", cursor)
	}
}

func TestDeactivateIdempotent(t *testing.T) {
	db := testutil.SetupTestDB(t)
	testutil.CleanupSession(t, db, "mod-4")
	ctx := context.Background()

	fp := &fakePlatform{info: platform.StreamInfo{VideoID: "vid-4", ChatChannelID: "chat-4"}}
	reg := NewRegistry(db, fp)
	if _, err := reg.StartSession(ctx, "mod-4", "any"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := reg.Deactivate(ctx, "mod-4"); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}
	if err := reg.Deactivate(ctx, "mod-4"); err != nil {
		t.Fatalf("second Deactivate: %v", err)
	}
	if err := reg.DeactivateByChannel(ctx, "chat-4"); err != nil {
		t.Fatalf("DeactivateByChannel on inactive: %v", err)
	}
}
