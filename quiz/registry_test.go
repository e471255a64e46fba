package quiz

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/korjavin/quizbot/models"
)

func newTestRegistry(grace time.Duration) *Registry {
	return NewRegistry(fastOptions(), grace, nil)
}

func TestRegistryEnforcesOneActiveSessionPerChat(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	tr := &fakeTransport{}

	if _, err := reg.Create(tr, 42, 7, twoQuestions(), Hooks{}); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := reg.Create(tr, 42, 7, twoQuestions(), Hooks{}); !errors.Is(err, ErrSessionAlreadyActive) {
		t.Fatalf("expected ErrSessionAlreadyActive, got %v", err)
	}
	// A different chat is unaffected.
	if _, err := reg.Create(tr, 43, 7, twoQuestions(), Hooks{}); err != nil {
		t.Fatalf("create for other chat: %v", err)
	}
}

func TestRegistryAllowsNewSessionAfterTerminal(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	tr := &fakeTransport{}

	first, err := reg.Create(tr, 42, 7, twoQuestions(), Hooks{})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	first.Cancel()

	if _, err := reg.Create(tr, 42, 7, twoQuestions(), Hooks{}); err != nil {
		t.Fatalf("create after cancel should succeed, got %v", err)
	}
}

func TestRegistryRoutesPollsAndEvicts(t *testing.T) {
	reg := newTestRegistry(20 * time.Millisecond)
	tr := &fakeTransport{}
	completed := make(chan struct{}, 1)

	s, err := reg.Create(tr, 42, 7, twoQuestions(), Hooks{
		Completed: func(*Session, models.ScoreResult) { completed <- struct{}{} },
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := s.AwaitDuration(); err != nil {
		t.Fatalf("await: %v", err)
	}
	if err := s.SetDuration(time.Hour); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	if err := s.Dispatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	routed, ok := reg.Resolve("poll-1")
	if !ok || routed != s {
		t.Fatalf("expected poll-1 routed to the session")
	}

	s.CloseEarly()
	<-completed

	// The session stays resolvable through the grace window, then goes.
	deadline := time.After(2 * time.Second)
	for {
		if _, ok := reg.Resolve("poll-1"); !ok {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("session never evicted")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if _, ok := reg.Lookup(42); ok {
		t.Fatalf("expected chat lookup to miss after eviction")
	}
}

func TestRegistryResolveUnknownPoll(t *testing.T) {
	reg := newTestRegistry(time.Minute)
	if _, ok := reg.Resolve("not-a-poll"); ok {
		t.Fatalf("expected unknown poll to miss")
	}
}
