package app

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"gatebot/internal/config"
)

// Sweeper periodically evicts users whose join record outlived the grace
// period without them ever starting the quiz. Eviction is a kick followed
// by an unban so the user may rejoin later.
type Sweeper struct {
	store    StateStore
	chat     ChatClient
	gate     config.Gate
	strs     config.Strings
	interval time.Duration
	grace    time.Duration
	now      func() time.Time
	cron     *cron.Cron
}

func NewSweeper(store StateStore, chat ChatClient, cfg config.Config) *Sweeper {
	return &Sweeper{
		store:    store,
		chat:     chat,
		gate:     cfg.Gate,
		strs:     cfg.Strings,
		interval: config.Duration(cfg.Gate.Sweep.Interval, time.Minute),
		grace:    config.Duration(cfg.Gate.Sweep.Grace, 10*time.Minute),
		now:      time.Now,
		cron:     cron.New(),
	}
}

// NewSweeperWithClock is test-only for deterministic timestamps.
func NewSweeperWithClock(store StateStore, chat ChatClient, cfg config.Config, now func() time.Time) *Sweeper {
	s := NewSweeper(store, chat, cfg)
	s.now = now
	return s
}

// Start schedules the sweep. The cron runner owns its own goroutine; all
// state crossing into a sweep goes through the store.
func (s *Sweeper) Start() error {
	if _, err := s.cron.AddFunc("@every "+s.interval.String(), func() {
		if err := s.Sweep(context.Background()); err != nil {
			log.Printf("sweeper: %v", err)
		}
	}); err != nil {
		return fmt.Errorf("sweeper: schedule: %w", err)
	}
	s.cron.Start()
	log.Printf("sweeper running every %s, grace %s", s.interval, s.grace)
	return nil
}

func (s *Sweeper) Stop() {
	s.cron.Stop()
}

// Sweep scans all pending join records once. Entries that fail to parse as
// numbers are skipped, not fatal.
func (s *Sweeper) Sweep(ctx context.Context) error {
	pending, err := s.store.HGetAll(ctx, joinKey)
	if err != nil {
		return fmt.Errorf("read join records: %w", err)
	}
	now := s.now().Unix()
	for rawID, rawTS := range pending {
		userID, err := strconv.ParseInt(rawID, 10, 64)
		if err != nil {
			continue
		}
		joined, err := strconv.ParseInt(rawTS, 10, 64)
		if err != nil {
			continue
		}
		if time.Duration(now-joined)*time.Second < s.grace {
			continue
		}
		s.evict(ctx, userID)
	}
	return nil
}

func (s *Sweeper) evict(ctx context.Context, userID int64) {
	var g errgroup.Group
	for _, chatID := range s.gate.Chats {
		chatID := chatID
		g.Go(func() error {
			if err := s.chat.BanMember(ctx, chatID, userID); err != nil {
				return fmt.Errorf("chat %d: %w", chatID, err)
			}
			return s.chat.UnbanMember(ctx, chatID, userID)
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("sweeper: evict %d: %v", userID, err)
	}
	if err := s.store.HDel(ctx, joinKey, strconv.FormatInt(userID, 10)); err != nil {
		log.Printf("sweeper: delete join record %d: %v", userID, err)
		return
	}

	if !s.gate.AnnounceEvictions {
		return
	}
	name, err := s.store.HGet(ctx, userKey(userID), usernameField)
	if err != nil || name == "" {
		name = strconv.FormatInt(userID, 10)
	}
	text := fmt.Sprintf(s.strs.Evicted, name)
	for _, chatID := range s.gate.Chats {
		if _, err := s.chat.SendMessage(ctx, chatID, text, nil); err != nil {
			log.Printf("sweeper: announce in %d: %v", chatID, err)
		}
	}
}
