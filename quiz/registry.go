package quiz

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/korjavin/quizbot/models"
)

// Registry is the process-wide table of live sessions, keyed by chat. It
// enforces at most one non-terminal quiz per chat and owns the routing
// from poll identifiers to sessions. Its lock protects only table
// insert/evict/lookup; parsing, dispatch and scoring run outside it.
type Registry struct {
	log   *zap.SugaredLogger
	opts  Options
	grace time.Duration

	mu     sync.Mutex
	byChat map[int64]*Session
	byPoll map[string]*Session
}

// NewRegistry builds an empty registry. grace bounds how long a terminal
// session stays resolvable before eviction.
func NewRegistry(opts Options, grace time.Duration, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if grace <= 0 {
		grace = time.Minute
	}
	return &Registry{
		log:    log,
		opts:   opts,
		grace:  grace,
		byChat: make(map[int64]*Session),
		byPoll: make(map[string]*Session),
	}
}

// Create registers a new session for the chat, failing with
// ErrSessionAlreadyActive while a previous one is still live. The
// caller-supplied hooks are wrapped so the registry can route polls and
// schedule eviction.
func (r *Registry) Create(tr Transport, chatID, ownerID int64, questions []models.Question, hooks Hooks) (*Session, error) {
	r.mu.Lock()
	if existing, ok := r.byChat[chatID]; ok && !existing.Status().Terminal() {
		r.mu.Unlock()
		return nil, ErrSessionAlreadyActive
	}
	r.mu.Unlock()

	wrapped := Hooks{
		PollBound: func(pollID string, s *Session) {
			r.mu.Lock()
			r.byPoll[pollID] = s
			r.mu.Unlock()
			if hooks.PollBound != nil {
				hooks.PollBound(pollID, s)
			}
		},
		Completed: func(s *Session, result models.ScoreResult) {
			if hooks.Completed != nil {
				hooks.Completed(s, result)
			}
			r.scheduleEvict(s)
		},
		Cancelled: func(s *Session) {
			if hooks.Cancelled != nil {
				hooks.Cancelled(s)
			}
			r.scheduleEvict(s)
		},
	}

	session := NewSession(uuid.NewString(), tr, chatID, ownerID, questions, r.opts, wrapped, r.log)

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.byChat[chatID]; ok && !existing.Status().Terminal() {
		return nil, ErrSessionAlreadyActive
	}
	r.byChat[chatID] = session
	return session, nil
}

// Lookup returns the session currently registered for a chat.
func (r *Registry) Lookup(chatID int64) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byChat[chatID]
	return s, ok
}

// Resolve routes a poll identifier to its owning session. Unknown polls
// are the caller's signal of a stale event.
func (r *Registry) Resolve(pollID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byPoll[pollID]
	return s, ok
}

// scheduleEvict removes a terminal session after the grace window so late
// result reads still resolve briefly.
func (r *Registry) scheduleEvict(s *Session) {
	time.AfterFunc(r.grace, func() { r.evict(s) })
}

func (r *Registry) evict(s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.byChat[s.ChatID()]; ok && cur == s {
		delete(r.byChat, s.ChatID())
	}
	for _, pollID := range s.PollIDs() {
		if cur, ok := r.byPoll[pollID]; ok && cur == s {
			delete(r.byPoll, pollID)
		}
	}
	r.log.Debugw("session evicted", "chat", s.ChatID(), "session", s.ID())
}
