package reply

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/castwatch/buzz-tender/backend/generation"
	"github.com/castwatch/buzz-tender/backend/platform"
	"github.com/castwatch/buzz-tender/backend/session"
	"github.com/castwatch/buzz-tender/backend/testutil"
)

type fakePoster struct {
	info    platform.StreamInfo
	postErr error
	posted  []string
	calls   int
}

func (f *fakePoster) ResolveStream(ctx context.Context, url string) (platform.StreamInfo, error) {
	return f.info, nil
}

func (f *fakePoster) FetchPage(ctx context.Context, chatChannelID, cursor string, limit int) (platform.Page, error) {
	return platform.Page{}, nil
}

func (f *fakePoster) PostMessage(ctx context.Context, chatChannelID, text string) error {
	f.calls++
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, text)
	return nil
}

type fakeSummarizer struct {
	summarizeErr error
	calls        int
}

func (f *fakeSummarizer) Classify(ctx context.Context, texts []string) ([]generation.Kind, error) {
	return nil, errors.New("not used")
}

func (f *fakeSummarizer) Respond(ctx context.Context, text string, kind generation.Kind) (string, error) {
	return "", errors.New("not used")
}

func (f *fakeSummarizer) Summarize(ctx context.Context, text string) (string, error) {
	f.calls++
	if f.summarizeErr != nil {
		return "", f.summarizeErr
	}
	return "summary of " + text, nil
}

func setupWriter(t *testing.T, sessionID, channelID string) (*Writer, *fakePoster, *fakeSummarizer, *Accumulator, *session.Registry) {
	t.Helper()
	db := testutil.SetupTestDB(t)
	testutil.CleanupSession(t, db, sessionID)

	fp := &fakePoster{info: platform.StreamInfo{VideoID: "v", ChatChannelID: channelID}}
	fg := &fakeSummarizer{}
	reg := session.NewRegistry(db, fp)
	if _, err := reg.StartSession(context.Background(), sessionID, "any"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	acc := &Accumulator{DB: db}
	w := &Writer{
		DB:         db,
		Platform:   fp,
		Gen:        fg,
		Sessions:   reg,
		Notifier:   LogNotifier{},
		MaxRetries: 3,
		RetryDelay: time.Millisecond,
	}
	return w, fp, fg, acc, reg
}

func TestWriteOnceBatchesNotesIntoOnePost(t *testing.T) {
	w, fp, fg, acc, _ := setupWriter(t, "rep-batch", "ch-batch")
	ctx := context.Background()

	notifier := NewChanNotifier(4)
	w.Notifier = notifier

	for _, text := range []string{"first note", "second note", "third note"} {
		if err := acc.Store(ctx, "rep-batch", "ch-batch", text); err != nil {
			t.Fatalf("Store: %v", err)
		}
	}

	if err := w.WriteOnce(ctx); err != nil {
		t.Fatalf("WriteOnce: %v", err)
	}

	if len(fp.posted) != 1 {
		t.Fatalf("posted %d messages, want 1", len(fp.posted))
	}
	if fg.calls != 1 {
		t.Errorf("summarize calls = %d, want 1", fg.calls)
	}
	if !strings.Contains(fp.posted[0], "first note") {
		t.Errorf("summary did not include notes: %q", fp.posted[0])
	}

	var remaining int
	if err := w.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM reply_records WHERE session_id='rep-batch' AND write_state<>'WRITTEN'`).Scan(&remaining); err != nil {
		t.Fatal(err)
	}
	if remaining != 0 {
		t.Errorf("%d records not WRITTEN after success", remaining)
	}

	select {
	case n := <-notifier.C:
		if n.Count != 3 || n.SessionID != "rep-batch" {
			t.Errorf("unexpected notification: %+v", n)
		}
	default:
		t.Error("no notification emitted")
	}
}

func TestWriteOnceSingleNotePostsVerbatim(t *testing.T) {
	w, fp, fg, acc, _ := setupWriter(t, "rep-single", "ch-single")
	ctx := context.Background()

	if err := acc.Store(ctx, "rep-single", "ch-single", "just one thing to say"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if len(fp.posted) != 1 || fp.posted[0] != "just one thing to say" {
		t.Fatalf("posted = %v, want the note verbatim", fp.posted)
	}
	if fg.calls != 0 {
		t.Errorf("summarize called for a single note")
	}
}

func TestWriteOnceFailureCountsRetryThenFails(t *testing.T) {
	w, fp, _, acc, _ := setupWriter(t, "rep-retry", "ch-retry")
	w.MaxRetries = 2
	ctx := context.Background()

	if err := acc.Store(ctx, "rep-retry", "ch-retry", "doomed note"); err != nil {
		t.Fatal(err)
	}
	fp.postErr = errors.New("503 service unavailable")

	if err := w.WriteOnce(ctx); err != nil {
		t.Fatalf("WriteOnce: %v", err)
	}
	var state string
	var retries int
	if err := w.DB.QueryRowContext(ctx,
		`SELECT write_state, retry_count FROM reply_records WHERE session_id='rep-retry'`).Scan(&state, &retries); err != nil {
		t.Fatal(err)
	}
	if state != StateNotWritten || retries != 1 {
		t.Fatalf("after first failed tick: state=%s retries=%d, want NOT_WRITTEN/1", state, retries)
	}
	// Transient errors are retried in-tick up to the bound.
	if fp.calls != 2 {
		t.Errorf("post attempts = %d, want 2", fp.calls)
	}

	if err := w.WriteOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if err := w.DB.QueryRowContext(ctx,
		`SELECT write_state, retry_count FROM reply_records WHERE session_id='rep-retry'`).Scan(&state, &retries); err != nil {
		t.Fatal(err)
	}
	if state != StateFailed || retries != 2 {
		t.Fatalf("after second failed tick: state=%s retries=%d, want FAILED/2", state, retries)
	}

	// FAILED records are out of the rotation.
	fp.calls = 0
	if err := w.WriteOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if fp.calls != 0 {
		t.Errorf("FAILED record was retried")
	}
}

func TestWriteOnceSummarizeFailureDoesNotCountRetry(t *testing.T) {
	w, fp, fg, acc, _ := setupWriter(t, "rep-sumfail", "ch-sumfail")
	ctx := context.Background()

	for _, text := range []string{"note a", "note b"} {
		if err := acc.Store(ctx, "rep-sumfail", "ch-sumfail", text); err != nil {
			t.Fatal(err)
		}
	}
	fg.summarizeErr = errors.New("model unavailable")

	if err := w.WriteOnce(ctx); err != nil {
		t.Fatal(err)
	}
	if fp.calls != 0 {
		t.Errorf("posted despite summarize failure")
	}
	var states, retries int
	if err := w.DB.QueryRowContext(ctx,
		`SELECT COUNT(1), COALESCE(MAX(retry_count),0) FROM reply_records WHERE session_id='rep-sumfail' AND write_state='NOT_WRITTEN'`).Scan(&states, &retries); err != nil {
		t.Fatal(err)
	}
	if states != 2 {
		t.Errorf("records not released to NOT_WRITTEN: %d", states)
	}
	if retries != 0 {
		t.Errorf("summarize failure consumed a retry: %d", retries)
	}
}

func TestWriteOnceChatEndedDeactivatesSession(t *testing.T) {
	w, fp, _, acc, reg := setupWriter(t, "rep-ended", "ch-ended")
	ctx := context.Background()

	if err := acc.Store(ctx, "rep-ended", "ch-ended", "too late"); err != nil {
		t.Fatal(err)
	}
	fp.postErr = &platform.ChatEndedError{ChatChannelID: "ch-ended"}

	if err := w.WriteOnce(ctx); err != nil {
		t.Fatal(err)
	}

	var na *platform.NoActiveStreamError
	if _, err := reg.GetActiveSession(ctx, "rep-ended"); !errors.As(err, &na) {
		t.Fatalf("session still active after chat ended: %v", err)
	}
	// Teardown resolves the stale record; nothing left to post.
	var state string
	if err := w.DB.QueryRowContext(ctx,
		`SELECT write_state FROM reply_records WHERE session_id='rep-ended'`).Scan(&state); err != nil {
		t.Fatal(err)
	}
	if state != StateWritten {
		t.Errorf("stale record state = %s, want WRITTEN", state)
	}
}

func TestAccumulatorRejectsEmptyNote(t *testing.T) {
	db := testutil.SetupTestDB(t)
	acc := &Accumulator{DB: db}
	if err := acc.Store(context.Background(), "s", "c", ""); err == nil {
		t.Fatal("expected error for empty note")
	}
}

func TestWriteOnceRequeuesStalePendingClaims(t *testing.T) {
	w, fp, _, acc, _ := setupWriter(t, "rep-stale", "ch-stale")
	ctx := context.Background()

	if err := acc.Store(ctx, "rep-stale", "ch-stale", "orphaned note"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	// A claimant that died mid-post leaves the record PENDING with an old
	// updated_at; the next tick must requeue and deliver it.
	if _, err := w.DB.ExecContext(ctx,
		`UPDATE reply_records SET write_state='PENDING', updated_at=NOW() - INTERVAL '10 minutes'
		 WHERE session_id='rep-stale'`); err != nil {
		t.Fatal(err)
	}

	if err := w.WriteOnce(ctx); err != nil {
		t.Fatalf("WriteOnce: %v", err)
	}

	if len(fp.posted) != 1 {
		t.Fatalf("posted %d messages, want 1", len(fp.posted))
	}
	var state string
	if err := w.DB.QueryRowContext(ctx,
		`SELECT write_state FROM reply_records WHERE session_id='rep-stale'`).Scan(&state); err != nil {
		t.Fatal(err)
	}
	if state != StateWritten {
		t.Errorf("write_state = %q, want %q", state, StateWritten)
	}
}

func TestWriteOnceLeavesFreshClaimsAlone(t *testing.T) {
	w, fp, _, acc, _ := setupWriter(t, "rep-liveclaim", "ch-liveclaim")
	ctx := context.Background()

	if err := acc.Store(ctx, "rep-liveclaim", "ch-liveclaim", "claimed elsewhere"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	// A PENDING record with a recent updated_at belongs to a live worker.
	if _, err := w.DB.ExecContext(ctx,
		`UPDATE reply_records SET write_state='PENDING', updated_at=NOW()
		 WHERE session_id='rep-liveclaim'`); err != nil {
		t.Fatal(err)
	}

	if err := w.WriteOnce(ctx); err != nil {
		t.Fatalf("WriteOnce: %v", err)
	}

	if fp.calls != 0 {
		t.Errorf("posted %d times for another worker's claim, want 0", fp.calls)
	}
	var state string
	if err := w.DB.QueryRowContext(ctx,
		`SELECT write_state FROM reply_records WHERE session_id='rep-liveclaim'`).Scan(&state); err != nil {
		t.Fatal(err)
	}
	if state != StatePending {
		t.Errorf("write_state = %q, want %q", state, StatePending)
	}
}

func TestReleaseGroupSurvivesCancelledContext(t *testing.T) {
	w, _, _, acc, _ := setupWriter(t, "rep-cancel", "ch-cancel")
	ctx := context.Background()

	if err := acc.Store(ctx, "rep-cancel", "ch-cancel", "note mid shutdown"); err != nil {
		t.Fatalf("Store: %v", err)
	}
	g := group{sessionID: "rep-cancel", chatChannelID: "ch-cancel"}
	if _, err := w.claimGroup(ctx, g); err != nil {
		t.Fatalf("claimGroup: %v", err)
	}

	// Shutdown cancels the tick ctx right as the post fails; the release
	// must still land or the records stay PENDING forever.
	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	if err := w.releaseGroup(cancelled, g, true); err != nil {
		t.Fatalf("releaseGroup with cancelled ctx: %v", err)
	}

	var state string
	var retries int
	if err := w.DB.QueryRowContext(ctx,
		`SELECT write_state, retry_count FROM reply_records WHERE session_id='rep-cancel'`).
		Scan(&state, &retries); err != nil {
		t.Fatal(err)
	}
	if state != StateNotWritten {
		t.Errorf("write_state = %q, want %q", state, StateNotWritten)
	}
	if retries != 1 {
		t.Errorf("retry_count = %d, want 1", retries)
	}
}
