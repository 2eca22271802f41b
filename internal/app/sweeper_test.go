package app_test

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"gatebot/internal/app"
	"gatebot/internal/domain"
	"gatebot/internal/infra/memory"
)

func TestSweepEvictsAfterGrace(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStateStore()
	chat := newFakeChat()
	now := time.Unix(1_700_000_000, 0)
	sweeper := newTestSweeper(store, chat, now)

	// joined 20 minutes ago, grace is 10
	joined := now.Add(-20 * time.Minute).Unix()
	if err := store.HSet(ctx, "gate:join", "7", formatInt(joined)); err != nil {
		t.Fatalf("seed join: %v", err)
	}
	if err := store.HSet(ctx, "gate:user:7", "username", "mario"); err != nil {
		t.Fatalf("seed username: %v", err)
	}

	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if got := chat.bannedCount(); got != 2 {
		t.Fatalf("expected kick in both chats, got %d", got)
	}
	if len(chat.unbanned) != 2 {
		t.Fatalf("expected unban in both chats, got %d", len(chat.unbanned))
	}
	if _, err := store.HGet(ctx, "gate:join", "7"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected join record deleted, got %v", err)
	}
	// announced by username in both chats
	if len(chat.sent) != 2 || chat.sent[0].text != "mario evicted" {
		t.Fatalf("expected eviction announcements, got %+v", chat.sent)
	}

	// immediate re-run is a no-op
	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if got := chat.bannedCount(); got != 2 {
		t.Fatalf("re-sweep must not evict again, got %d kicks", got)
	}
}

func TestSweepSparesFreshJoins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStateStore()
	chat := newFakeChat()
	now := time.Unix(1_700_000_000, 0)
	sweeper := newTestSweeper(store, chat, now)

	joined := now.Add(-time.Minute).Unix()
	_ = store.HSet(ctx, "gate:join", "7", formatInt(joined))

	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if chat.bannedCount() != 0 {
		t.Fatalf("fresh join must not be evicted")
	}
	if _, err := store.HGet(ctx, "gate:join", "7"); err != nil {
		t.Fatalf("join record must survive, got %v", err)
	}
}

func TestSweepSkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStateStore()
	chat := newFakeChat()
	now := time.Unix(1_700_000_000, 0)
	sweeper := newTestSweeper(store, chat, now)

	_ = store.HSet(ctx, "gate:join", "not-a-user", "also-not-a-timestamp")
	_ = store.HSet(ctx, "gate:join", "7", "garbage")

	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep must tolerate malformed entries: %v", err)
	}
	if chat.bannedCount() != 0 {
		t.Fatalf("malformed entries must be skipped, not evicted")
	}
}

func TestSweepWithoutAnnouncements(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStateStore()
	chat := newFakeChat()
	now := time.Unix(1_700_000_000, 0)

	cfg := testConfig()
	cfg.Gate.AnnounceEvictions = false
	cfg.Gate.Sweep.Grace = "10m"
	sweeper := app.NewSweeperWithClock(store, chat, cfg, func() time.Time { return now })

	_ = store.HSet(ctx, "gate:join", "7", formatInt(now.Add(-time.Hour).Unix()))

	if err := sweeper.Sweep(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if chat.bannedCount() != 2 {
		t.Fatalf("expected eviction, got %d kicks", chat.bannedCount())
	}
	if len(chat.sent) != 0 {
		t.Fatalf("announcements disabled, got %d messages", len(chat.sent))
	}
}

func newTestSweeper(store *memory.StateStore, chat *fakeChat, now time.Time) *app.Sweeper {
	cfg := testConfig()
	cfg.Gate.AnnounceEvictions = true
	cfg.Gate.Sweep.Grace = "10m"
	cfg.Gate.Sweep.Interval = "1m"
	return app.NewSweeperWithClock(store, chat, cfg, func() time.Time { return now })
}

func formatInt(v int64) string {
	return strconv.FormatInt(v, 10)
}
