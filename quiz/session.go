// Package quiz implements the quiz orchestration core: the per-chat
// session state machine, the process-wide session registry, poll dispatch
// and concurrent answer collection, and final scoring.
package quiz

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/korjavin/quizbot/models"
)

// Transport is the chat/poll delivery collaborator. Implementations send a
// single-question poll and return the transport's poll identifier.
type Transport interface {
	SendPoll(ctx context.Context, chatID int64, question string, options []string) (pollID string, err error)
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// Hooks are callbacks fired at lifecycle points. All hooks are invoked
// outside the session's locks and may be nil.
type Hooks struct {
	// PollBound fires once per successfully dispatched question.
	PollBound func(pollID string, s *Session)
	// Completed fires exactly once, after scoring.
	Completed func(s *Session, result models.ScoreResult)
	// Cancelled fires exactly once if the session is cancelled.
	Cancelled func(s *Session)
}

// Options tune session timing. Zero values fall back to defaults.
type Options struct {
	// DispatchPause is the delay between consecutive poll sends, keeping
	// the transport under its rate limit.
	DispatchPause time.Duration
	// RetryAttempts is the per-question dispatch attempt bound.
	RetryAttempts int
	// RetryBackoff is the base backoff between dispatch attempts, scaled
	// linearly by attempt number.
	RetryBackoff time.Duration
	// AwaitTimeout cancels a session whose owner never supplied a duration.
	AwaitTimeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.DispatchPause == 0 {
		o.DispatchPause = 400 * time.Millisecond
	}
	if o.RetryAttempts == 0 {
		o.RetryAttempts = 3
	}
	if o.RetryBackoff == 0 {
		o.RetryBackoff = 500 * time.Millisecond
	}
	if o.AwaitTimeout == 0 {
		o.AwaitTimeout = 10 * time.Minute
	}
	return o
}

// pairKey identifies one participant's answer slot for one question.
type pairKey struct {
	userID   int64
	question int
}

// Session owns one quiz's lifecycle for one chat, from creation through
// scoring. All mutating entry points are safe for concurrent use.
type Session struct {
	id       string
	chatID   int64
	ownerID  int64
	question []models.Question

	tr    Transport
	log   *zap.SugaredLogger
	opts  Options
	hooks Hooks
	now   func() time.Time

	mu           sync.RWMutex
	status       Status
	duration     time.Duration
	pollToIndex  map[string]int
	indexToPoll  map[int]string
	undispatched map[int]bool
	startedAt    time.Time
	endsAt       time.Time
	result       *models.ScoreResult
	expiryTimer  *time.Timer
	abandonTimer *time.Timer

	// answers maps pairKey to *models.ParticipantAnswer. Writes to distinct
	// pairs proceed independently; writes to the same pair serialize through
	// a timestamp-guarded compare-and-swap loop.
	answers sync.Map
}

// NewSession builds a session in the Created state. It is normally reached
// through Registry.Create, which enforces at most one live session per chat.
func NewSession(id string, tr Transport, chatID, ownerID int64, questions []models.Question, opts Options, hooks Hooks, log *zap.SugaredLogger) *Session {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Session{
		id:           id,
		chatID:       chatID,
		ownerID:      ownerID,
		question:     questions,
		tr:           tr,
		log:          log.With("chat", chatID, "session", id),
		opts:         opts.withDefaults(),
		hooks:        hooks,
		now:          time.Now,
		status:       StatusCreated,
		pollToIndex:  make(map[string]int),
		indexToPoll:  make(map[int]string),
		undispatched: make(map[int]bool),
	}
}

func (s *Session) ID() string                  { return s.id }
func (s *Session) ChatID() int64               { return s.chatID }
func (s *Session) OwnerID() int64              { return s.ownerID }
func (s *Session) Questions() []models.Question { return s.question }

// Status returns the current lifecycle state.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Window returns the active quiz window. Zero times before dispatch ends.
func (s *Session) Window() (startedAt, endsAt time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.startedAt, s.endsAt
}

// AwaitDuration moves Created -> AwaitingDuration and arms the
// owner-abandonment timeout.
func (s *Session) AwaitDuration() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusCreated {
		return fmt.Errorf("%w: %s", ErrWrongState, s.status)
	}
	s.status = StatusAwaitingDuration
	s.abandonTimer = time.AfterFunc(s.opts.AwaitTimeout, func() {
		s.log.Infow("duration never supplied, cancelling session")
		s.Cancel()
	})
	return nil
}

// SetDuration accepts the owner's duration and moves to Dispatching.
func (s *Session) SetDuration(d time.Duration) error {
	if d <= 0 {
		return ErrInvalidDuration
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != StatusAwaitingDuration {
		return fmt.Errorf("%w: %s", ErrWrongState, s.status)
	}
	if s.abandonTimer != nil {
		s.abandonTimer.Stop()
		s.abandonTimer = nil
	}
	s.duration = d
	s.status = StatusDispatching
	return nil
}

// Dispatch sends one poll per question in document order, then arms the
// expiry timer and moves to Active. A question whose dispatch keeps failing
// after the retry bound is recorded as undispatched and excluded from
// scoring; the quiz proceeds with the rest.
func (s *Session) Dispatch(ctx context.Context) error {
	if st := s.Status(); st != StatusDispatching {
		return fmt.Errorf("%w: %s", ErrWrongState, st)
	}

	for i, q := range s.question {
		if err := ctx.Err(); err != nil {
			s.Cancel()
			return err
		}
		if s.Status() != StatusDispatching {
			// Cancelled while sending.
			return fmt.Errorf("%w: %s", ErrWrongState, s.Status())
		}

		pollID, err := s.sendWithRetry(ctx, i, q)
		if err != nil {
			s.log.Warnw("question undispatched", "index", i, "error", err)
			s.mu.Lock()
			s.undispatched[i] = true
			s.mu.Unlock()
			continue
		}

		s.mu.Lock()
		s.pollToIndex[pollID] = i
		s.indexToPoll[i] = pollID
		s.mu.Unlock()
		if s.hooks.PollBound != nil {
			s.hooks.PollBound(pollID, s)
		}

		if i < len(s.question)-1 {
			select {
			case <-ctx.Done():
				s.Cancel()
				return ctx.Err()
			case <-time.After(s.opts.DispatchPause):
			}
		}
	}

	s.mu.Lock()
	if s.status != StatusDispatching {
		st := s.status
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrWrongState, st)
	}
	s.startedAt = s.now()
	s.endsAt = s.startedAt.Add(s.duration)
	s.status = StatusActive
	s.expiryTimer = time.AfterFunc(s.duration, s.expire)
	s.mu.Unlock()

	s.log.Infow("quiz active", "questions", len(s.question), "ends_at", s.endsAt)
	return nil
}

func (s *Session) sendWithRetry(ctx context.Context, idx int, q models.Question) (string, error) {
	var lastErr error
	for attempt := 1; attempt <= s.opts.RetryAttempts; attempt++ {
		pollID, err := s.tr.SendPoll(ctx, s.chatID, pollQuestionText(idx, q), q.OptionTexts())
		if err == nil {
			return pollID, nil
		}
		lastErr = err
		s.log.Warnw("poll dispatch failed", "index", idx, "attempt", attempt, "error", err)
		if attempt < s.opts.RetryAttempts {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Duration(attempt) * s.opts.RetryBackoff):
			}
		}
	}
	return "", fmt.Errorf("dispatch failed after %d attempts: %w", s.opts.RetryAttempts, lastErr)
}

// pollQuestionText renders the poll header. Telegram caps poll questions at
// 300 characters.
func pollQuestionText(idx int, q models.Question) string {
	text := fmt.Sprintf("%d. %s", idx+1, q.Text)
	runes := []rune(text)
	if len(runes) > 300 {
		text = string(runes[:297]) + "..."
	}
	return text
}

// RecordAnswer ingests one inbound answer event. Unknown polls and
// pre-active sessions report ErrStaleEvent; events after closing report
// ErrLateAnswer. For a known pair the answer with the latest timestamp
// wins, regardless of processing order. An empty label models a retracted
// vote and is ignored: the last concrete choice stands.
func (s *Session) RecordAnswer(pollID string, userID int64, label string, at time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	switch s.status {
	case StatusActive:
	case StatusClosing, StatusCompleted:
		return ErrLateAnswer
	default:
		return ErrStaleEvent
	}

	idx, ok := s.pollToIndex[pollID]
	if !ok {
		return ErrStaleEvent
	}
	if label == "" {
		return nil
	}

	next := &models.ParticipantAnswer{
		UserID:        userID,
		QuestionIndex: idx,
		Label:         label,
		AnsweredAt:    at,
	}
	key := pairKey{userID: userID, question: idx}
	for {
		cur, loaded := s.answers.LoadOrStore(key, next)
		if !loaded {
			return nil
		}
		prev := cur.(*models.ParticipantAnswer)
		if !at.After(prev.AnsweredAt) {
			return nil
		}
		if s.answers.CompareAndSwap(key, cur, next) {
			return nil
		}
	}
}

// QuestionByPoll resolves a poll identifier to its question and index.
func (s *Session) QuestionByPoll(pollID string) (models.Question, int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.pollToIndex[pollID]
	if !ok {
		return models.Question{}, 0, false
	}
	return s.question[idx], idx, true
}

// HasPoll reports whether pollID belongs to this session.
func (s *Session) HasPoll(pollID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.pollToIndex[pollID]
	return ok
}

// PollIDs returns every bound poll identifier.
func (s *Session) PollIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.pollToIndex))
	for id := range s.pollToIndex {
		ids = append(ids, id)
	}
	return ids
}

// CloseEarly closes an active quiz ahead of its timer. It is an idempotent
// no-op when the session has already left Active.
func (s *Session) CloseEarly() bool {
	return s.finish()
}

func (s *Session) expire() {
	if !s.finish() {
		s.log.Debugw("expiry timer fired on inactive session", "status", s.Status())
	}
}

// finish runs Active -> Closing -> Completed. Taking the write lock drains
// all in-flight RecordAnswer calls, freezing the answer map before scoring.
func (s *Session) finish() bool {
	s.mu.Lock()
	if s.status != StatusActive {
		s.mu.Unlock()
		return false
	}
	s.status = StatusClosing
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}

	result := Score(s.question, s.undispatched, s.snapshotAnswers())
	s.result = &result
	s.status = StatusCompleted
	s.mu.Unlock()

	s.log.Infow("quiz completed", "participants", len(result.PerUser))
	if s.hooks.Completed != nil {
		s.hooks.Completed(s, result)
	}
	return true
}

// Cancel terminates the session from any pre-completed state, releasing
// timers immediately. No scoring is performed. Concurrent cancels collapse
// to one transition.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	if s.status.Terminal() || s.status == StatusClosing {
		s.mu.Unlock()
		return false
	}
	s.status = StatusCancelled
	if s.expiryTimer != nil {
		s.expiryTimer.Stop()
		s.expiryTimer = nil
	}
	if s.abandonTimer != nil {
		s.abandonTimer.Stop()
		s.abandonTimer = nil
	}
	s.mu.Unlock()

	s.log.Infow("quiz cancelled")
	if s.hooks.Cancelled != nil {
		s.hooks.Cancelled(s)
	}
	return true
}

// Result returns the final score once the session completed.
func (s *Session) Result() (models.ScoreResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.result == nil {
		return models.ScoreResult{}, false
	}
	return *s.result, true
}

// LiveScore computes one participant's running score mid-quiz. Unlike the
// final result it is advisory and may lag concurrent answer updates.
func (s *Session) LiveScore(userID int64) (models.UserScore, bool) {
	s.mu.RLock()
	undispatched := make(map[int]bool, len(s.undispatched))
	for k, v := range s.undispatched {
		undispatched[k] = v
	}
	s.mu.RUnlock()

	var mine []models.ParticipantAnswer
	s.answers.Range(func(_, v any) bool {
		a := v.(*models.ParticipantAnswer)
		if a.UserID == userID {
			mine = append(mine, *a)
		}
		return true
	})
	if len(mine) == 0 {
		return models.UserScore{}, false
	}
	res := Score(s.question, undispatched, mine)
	return res.PerUser[userID], true
}

func (s *Session) snapshotAnswers() []models.ParticipantAnswer {
	var out []models.ParticipantAnswer
	s.answers.Range(func(_, v any) bool {
		out = append(out, *v.(*models.ParticipantAnswer))
		return true
	})
	return out
}
