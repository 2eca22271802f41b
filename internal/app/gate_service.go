package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"gatebot/internal/config"
	"gatebot/internal/domain"
)

// StateStore abstracts the key-value store holding all session and
// join-tracking state (Redis in production, in-memory in tests). Missing
// keys or fields surface as domain.ErrNotFound.
type StateStore interface {
	Get(ctx context.Context, key string) (string, error)
	SetNX(ctx context.Context, key, value string) (bool, error)
	Del(ctx context.Context, keys ...string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HSet(ctx context.Context, key, field, value string) error
	HSetNX(ctx context.Context, key, field, value string) (bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error)
	HDel(ctx context.Context, key string, fields ...string) error
	// HCompareAndSet atomically replaces the field value only if it still
	// equals old. This is the answer lock; the check and the write must be
	// one store operation.
	HCompareAndSet(ctx context.Context, key, field, old, new string) (bool, error)
}

// Button is one inline keyboard control.
type Button struct {
	Label string
	Data  string
}

// ChatClient is the chat platform collaborator: message editing,
// per-identity send restrictions, and membership removal.
type ChatClient interface {
	SendMessage(ctx context.Context, chatID int64, text string, keyboard [][]Button) (int, error)
	EditMessage(ctx context.Context, chatID int64, messageID int, text string, keyboard [][]Button) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	RestrictSending(ctx context.Context, chatID, userID int64) error
	AllowSending(ctx context.Context, chatID, userID int64) error
	BanMember(ctx context.Context, chatID, userID int64) error
	UnbanMember(ctx context.Context, chatID, userID int64) error
	AnswerCallback(ctx context.Context, callbackID, text string, alert bool) error
	IsAdmin(ctx context.Context, chatID, userID int64) (bool, error)
}

// Store key layout. The join record is a single hash so the sweeper can
// scan all pending users in one read.
const (
	joinKey       = "gate:join"
	cursorField   = "cursor"
	usernameField = "username"
)

func sampleKey(userID int64) string {
	return "gate:sample:" + strconv.FormatInt(userID, 10)
}

func answersKey(userID int64) string {
	return "gate:answers:" + strconv.FormatInt(userID, 10)
}

func userKey(userID int64) string {
	return "gate:user:" + strconv.FormatInt(userID, 10)
}

func waitKey(userID int64) string {
	return "gate:wait:" + strconv.FormatInt(userID, 10)
}

// JoinEvent is a member joining a monitored chat.
type JoinEvent struct {
	ChatID   int64
	UserID   int64
	Username string
}

// LeaveEvent is a member leaving a monitored chat. MessageID is the
// service message announcing the departure.
type LeaveEvent struct {
	ChatID    int64
	UserID    int64
	MessageID int
}

// CallbackEvent is an interactive button press.
type CallbackEvent struct {
	CallbackID string
	ChatID     int64
	UserID     int64
	MessageID  int
	Data       string
}

// GateService gates entry to the monitored chats: it mutes joiners, runs
// their quiz session, and admits or wait-lists them on completion.
type GateService struct {
	store   StateStore
	chat    ChatClient
	catalog *domain.Catalog
	gate    config.Gate
	strs    config.Strings
	botID   int64
	now     func() time.Time

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewGateService(store StateStore, chat ChatClient, catalog *domain.Catalog, cfg config.Config, botID int64) (*GateService, error) {
	if cfg.Gate.QuestionsCount > catalog.Len() {
		return nil, fmt.Errorf("gate: questions_count %d exceeds catalog size %d",
			cfg.Gate.QuestionsCount, catalog.Len())
	}
	return &GateService{
		store:   store,
		chat:    chat,
		catalog: catalog,
		gate:    cfg.Gate,
		strs:    cfg.Strings,
		botID:   botID,
		now:     time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}, nil
}

// NewGateServiceWithClock is test-only for deterministic timestamps and sampling.
func NewGateServiceWithClock(store StateStore, chat ChatClient, catalog *domain.Catalog, cfg config.Config, botID int64, now func() time.Time, seed int64) (*GateService, error) {
	s, err := NewGateService(store, chat, catalog, cfg, botID)
	if err != nil {
		return nil, err
	}
	s.now = now
	s.rnd = rand.New(rand.NewSource(seed))
	return s, nil
}

func (s *GateService) monitored(chatID int64) bool {
	for _, id := range s.gate.Chats {
		if id == chatID {
			return true
		}
	}
	return false
}

// HandleJoin mutes a fresh joiner, records the join timestamp, and sends the
// intro prompt. Administrators and the bot itself are never gated.
func (s *GateService) HandleJoin(ctx context.Context, ev JoinEvent) error {
	if !s.monitored(ev.ChatID) || ev.UserID == s.botID {
		return nil
	}
	admin, err := s.chat.IsAdmin(ctx, ev.ChatID, ev.UserID)
	if err != nil {
		return fmt.Errorf("join: admin check: %w", err)
	}
	if admin {
		return nil
	}

	if ev.Username != "" {
		if err := s.store.HSet(ctx, userKey(ev.UserID), usernameField, ev.Username); err != nil {
			return fmt.Errorf("join: store username: %w", err)
		}
	}
	ts := strconv.FormatInt(s.now().Unix(), 10)
	if err := s.store.HSet(ctx, joinKey, strconv.FormatInt(ev.UserID, 10), ts); err != nil {
		return fmt.Errorf("join: record join: %w", err)
	}
	if err := s.chat.RestrictSending(ctx, ev.ChatID, ev.UserID); err != nil {
		return fmt.Errorf("join: restrict: %w", err)
	}

	pct := int(float64(s.gate.CorrectAnswers) / float64(s.gate.QuestionsCount) * 100)
	text := fmt.Sprintf(s.strs.Intro, s.gate.CorrectAnswers, s.gate.QuestionsCount, pct)
	keyboard := [][]Button{{{Label: s.strs.Ready, Data: domain.ReadyData()}}}
	if _, err := s.chat.SendMessage(ctx, ev.ChatID, text, keyboard); err != nil {
		return fmt.Errorf("join: intro prompt: %w", err)
	}
	return nil
}

// HandleLeave optionally deletes the departure service message. Pure
// cleanup, no session state is touched.
func (s *GateService) HandleLeave(ctx context.Context, ev LeaveEvent) error {
	if !s.monitored(ev.ChatID) || !s.gate.DeleteLeaveMessages || ev.MessageID == 0 {
		return nil
	}
	if err := s.chat.DeleteMessage(ctx, ev.ChatID, ev.MessageID); err != nil {
		return fmt.Errorf("leave: delete message: %w", err)
	}
	return nil
}

// HandleCallback routes a button press through the session state machine.
// The callback is always acknowledged, with an alert when the action was
// rejected or the session finished.
func (s *GateService) HandleCallback(ctx context.Context, ev CallbackEvent) error {
	action, parseErr := domain.ParseAction(ev.Data)
	if parseErr != nil {
		// Malformed payloads are ignored, never fatal.
		log.Printf("callback from %d: %v", ev.UserID, parseErr)
		return s.chat.AnswerCallback(ctx, ev.CallbackID, "", false)
	}

	var (
		notice string
		alert  bool
		err    error
	)
	switch a := action.(type) {
	case domain.Ready:
		err = s.ready(ctx, ev)
	case domain.Forward:
		notice, alert, err = s.move(ctx, ev, 1)
	case domain.Back:
		notice, alert, err = s.move(ctx, ev, -1)
	case domain.Answer:
		notice, alert, err = s.answer(ctx, ev, a)
	case domain.Acknowledge:
		// position counter button, nothing to do
	}

	// A lock violation is surfaced to the user, not to the operator.
	if errors.Is(err, domain.ErrAlreadyAnswered) {
		notice, alert, err = s.strs.AlreadyAnswered, true, nil
	}

	if ackErr := s.chat.AnswerCallback(ctx, ev.CallbackID, notice, alert); ackErr != nil && err == nil {
		err = fmt.Errorf("callback ack: %w", ackErr)
	}
	return err
}

// ready creates the session if it does not exist yet and renders the view
// at the current cursor. Both writes are set-if-absent, so a repeated Ready
// never resamples or rewinds an existing session.
func (s *GateService) ready(ctx context.Context, ev CallbackEvent) error {
	s.mu.Lock()
	ids := s.catalog.Sample(s.rnd, s.gate.QuestionsCount)
	s.mu.Unlock()
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("ready: encode sample: %w", err)
	}
	if _, err := s.store.SetNX(ctx, sampleKey(ev.UserID), string(raw)); err != nil {
		return fmt.Errorf("ready: create sample: %w", err)
	}
	if _, err := s.store.HSetNX(ctx, userKey(ev.UserID), cursorField, "0"); err != nil {
		return fmt.Errorf("ready: init cursor: %w", err)
	}
	return s.render(ctx, ev)
}

// move handles forward/back navigation. The cursor is clamped at both
// ends; completion is evaluated only at the last position with every
// position resolved, before any increment is written.
func (s *GateService) move(ctx context.Context, ev CallbackEvent, delta int) (string, bool, error) {
	ids, cursor, err := s.loadSession(ctx, ev.UserID)
	if err != nil {
		return "", false, err
	}

	if delta < 0 {
		if cursor == 0 {
			return "", false, s.render(ctx, ev)
		}
		if _, err := s.store.HIncrBy(ctx, userKey(ev.UserID), cursorField, -1); err != nil {
			return "", false, fmt.Errorf("move: decrement cursor: %w", err)
		}
		return "", false, s.render(ctx, ev)
	}

	if cursor < len(ids)-1 {
		if _, err := s.store.HIncrBy(ctx, userKey(ev.UserID), cursorField, 1); err != nil {
			return "", false, fmt.Errorf("move: increment cursor: %w", err)
		}
		return "", false, s.render(ctx, ev)
	}

	// Last position: either finish remaining questions or hand off.
	answers, err := s.store.HGetAll(ctx, answersKey(ev.UserID))
	if err != nil {
		return "", false, fmt.Errorf("move: read answers: %w", err)
	}
	tally := domain.TallyPositions(answers, len(ids))
	if tally.Unanswered > 0 {
		return s.strs.FinishRemaining, true, s.render(ctx, ev)
	}
	return s.evaluate(ctx, ev.UserID, tally)
}

// answer resolves a position exactly once. The compare-and-set is the
// write-once lock: a losing duplicate submission reports
// domain.ErrAlreadyAnswered and mutates nothing.
func (s *GateService) answer(ctx context.Context, ev CallbackEvent, a domain.Answer) (string, bool, error) {
	ids, _, err := s.loadSession(ctx, ev.UserID)
	if err != nil {
		return "", false, err
	}
	if a.Position < 0 || a.Position >= len(ids) {
		return "", false, fmt.Errorf("%w: position %d", domain.ErrInvalidAction, a.Position)
	}
	question, err := s.catalog.Question(ids[a.Position])
	if err != nil {
		return "", false, err
	}
	if a.Choice < 0 || a.Choice >= len(question.Options) {
		return "", false, fmt.Errorf("%w: choice %d", domain.ErrInvalidAction, a.Choice)
	}

	position := strconv.Itoa(a.Position)
	if _, err := s.store.HSetNX(ctx, answersKey(ev.UserID), position, string(domain.Unanswered)); err != nil {
		return "", false, fmt.Errorf("answer: init position: %w", err)
	}
	state := domain.Wrong
	if a.Choice == question.Answer {
		state = domain.Correct
	}
	swapped, err := s.store.HCompareAndSet(ctx, answersKey(ev.UserID), position,
		string(domain.Unanswered), string(state))
	if err != nil {
		return "", false, fmt.Errorf("answer: lock position: %w", err)
	}
	if !swapped {
		return "", false, fmt.Errorf("position %s: %w", position, domain.ErrAlreadyAnswered)
	}
	return "", false, s.render(ctx, ev)
}

// evaluate is the admission decision, reached only with zero unanswered
// positions.
func (s *GateService) evaluate(ctx context.Context, userID int64, tally domain.Tally) (string, bool, error) {
	if tally.Correct >= s.gate.CorrectAnswers {
		var g errgroup.Group
		for _, chatID := range s.gate.Chats {
			chatID := chatID
			g.Go(func() error {
				return s.chat.AllowSending(ctx, chatID, userID)
			})
		}
		if err := g.Wait(); err != nil {
			// Role-hierarchy rejections on one chat must not block admission.
			log.Printf("admit %d: lift restriction: %v", userID, err)
		}
		if err := s.store.HDel(ctx, joinKey, strconv.FormatInt(userID, 10)); err != nil {
			return "", false, fmt.Errorf("admit: delete join record: %w", err)
		}
		if err := s.clearSession(ctx, userID); err != nil {
			return "", false, err
		}
		return s.strs.Passed, true, nil
	}

	// First failure only; the session stays intact for inspection.
	ts := strconv.FormatInt(s.now().Unix(), 10)
	if _, err := s.store.SetNX(ctx, waitKey(userID), ts); err != nil {
		return "", false, fmt.Errorf("wait-list: %w", err)
	}
	return s.strs.Failed, true, nil
}

func (s *GateService) clearSession(ctx context.Context, userID int64) error {
	if err := s.store.Del(ctx, sampleKey(userID), answersKey(userID)); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	if err := s.store.HDel(ctx, userKey(userID), cursorField); err != nil {
		return fmt.Errorf("clear cursor: %w", err)
	}
	return nil
}

func (s *GateService) loadSession(ctx context.Context, userID int64) ([]int, int, error) {
	raw, err := s.store.Get(ctx, sampleKey(userID))
	if errors.Is(err, domain.ErrNotFound) {
		return nil, 0, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load sample: %w", err)
	}
	var ids []int
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, 0, fmt.Errorf("decode sample: %w", err)
	}

	cursorRaw, err := s.store.HGet(ctx, userKey(userID), cursorField)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, 0, domain.ErrSessionNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("load cursor: %w", err)
	}
	cursor, err := strconv.Atoi(cursorRaw)
	if err != nil {
		return nil, 0, fmt.Errorf("corrupt cursor %q for user %d", cursorRaw, userID)
	}
	// Racing navigation presses can both pass the bounds check and push
	// the stored cursor past either end. Repair by clamping back into
	// range so the session stays usable.
	if cursor < 0 || cursor >= len(ids) {
		if cursor < 0 {
			cursor = 0
		} else {
			cursor = len(ids) - 1
		}
		if err := s.store.HSet(ctx, userKey(userID), cursorField, strconv.Itoa(cursor)); err != nil {
			return nil, 0, fmt.Errorf("repair cursor: %w", err)
		}
	}
	return ids, cursor, nil
}

// render rebuilds the quiz view purely from (sample, cursor, answerState).
// Unresolved positions show options as buttons; resolved ones show plain
// text with the verdict line.
func (s *GateService) render(ctx context.Context, ev CallbackEvent) error {
	ids, cursor, err := s.loadSession(ctx, ev.UserID)
	if err != nil {
		return err
	}
	question, err := s.catalog.Question(ids[cursor])
	if err != nil {
		return err
	}

	position := strconv.Itoa(cursor)
	if _, err := s.store.HSetNX(ctx, answersKey(ev.UserID), position, string(domain.Unanswered)); err != nil {
		return fmt.Errorf("render: init position: %w", err)
	}
	stateRaw, err := s.store.HGet(ctx, answersKey(ev.UserID), position)
	if err != nil {
		return fmt.Errorf("render: read position: %w", err)
	}
	state := domain.AnswerState(stateRaw)

	text := fmt.Sprintf("(ID: %d)\n%s\n", question.ID, question.Prompt)
	var options []Button
	for i, option := range question.Options {
		text += fmt.Sprintf("\n%d) %s", i, option)
		if !state.Resolved() {
			options = append(options, Button{Label: strconv.Itoa(i), Data: domain.AnswerData(cursor, i)})
		}
	}
	if state.Resolved() {
		verdict := s.strs.WrongChoice
		if state == domain.Correct {
			verdict = s.strs.CorrectChoice
		}
		text += "\n\n" + verdict
	}

	nav := []Button{
		{Label: "<", Data: domain.BackData()},
		{Label: fmt.Sprintf("%d/%d", cursor+1, len(ids)), Data: domain.AcknowledgeData()},
		{Label: ">", Data: domain.ForwardData()},
	}
	var keyboard [][]Button
	if len(options) > 0 {
		keyboard = append(keyboard, options)
	}
	keyboard = append(keyboard, nav)

	if err := s.chat.EditMessage(ctx, ev.ChatID, ev.MessageID, text, keyboard); err != nil {
		return fmt.Errorf("render: edit message: %w", err)
	}
	return nil
}
