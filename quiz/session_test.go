package quiz

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/korjavin/quizbot/models"
)

type sentPoll struct {
	chatID   int64
	question string
	options  []string
}

// fakeTransport records sent polls and can fail the first N poll sends.
type fakeTransport struct {
	mu        sync.Mutex
	polls     []sentPoll
	messages  []string
	failFirst int
	calls     int
}

func (f *fakeTransport) SendPoll(_ context.Context, chatID int64, question string, options []string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failFirst {
		return "", errors.New("transport unavailable")
	}
	f.polls = append(f.polls, sentPoll{chatID: chatID, question: question, options: options})
	return fmt.Sprintf("poll-%d", len(f.polls)), nil
}

func (f *fakeTransport) SendMessage(_ context.Context, _ int64, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeTransport) sentPolls() []sentPoll {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentPoll(nil), f.polls...)
}

func fastOptions() Options {
	return Options{
		DispatchPause: time.Millisecond,
		RetryAttempts: 3,
		RetryBackoff:  time.Millisecond,
		AwaitTimeout:  time.Minute,
	}
}

func twoQuestions() []models.Question {
	return []models.Question{
		{
			Number: 1,
			Text:   "What is 2+2?",
			Options: []models.Option{
				{Label: "A", Text: "3"}, {Label: "B", Text: "4"}, {Label: "C", Text: "5"},
			},
			Correct: "B",
		},
		{
			Number: 2,
			Text:   "Capital of France?",
			Options: []models.Option{
				{Label: "A", Text: "Paris"}, {Label: "B", Text: "London"},
			},
			Correct: "A",
		},
	}
}

// startActive drives a session to Active with the given duration.
func startActive(t *testing.T, s *Session, d time.Duration) {
	t.Helper()
	if err := s.AwaitDuration(); err != nil {
		t.Fatalf("await duration: %v", err)
	}
	if err := s.SetDuration(d); err != nil {
		t.Fatalf("set duration: %v", err)
	}
	if err := s.Dispatch(context.Background()); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if got := s.Status(); got != StatusActive {
		t.Fatalf("expected active session, got %s", got)
	}
}

func TestSessionLifecycleAndScoring(t *testing.T) {
	tr := &fakeTransport{}
	completed := make(chan models.ScoreResult, 1)
	s := NewSession("s1", tr, 42, 7, twoQuestions(), fastOptions(), Hooks{
		Completed: func(_ *Session, r models.ScoreResult) { completed <- r },
	}, nil)

	if s.Status() != StatusCreated {
		t.Fatalf("expected created, got %s", s.Status())
	}
	startActive(t, s, 100*time.Millisecond)

	if len(tr.sentPolls()) != 2 {
		t.Fatalf("expected 2 polls dispatched, got %d", len(tr.sentPolls()))
	}
	if err := s.RecordAnswer("poll-1", 100, "B", time.Now()); err != nil {
		t.Fatalf("record answer: %v", err)
	}

	select {
	case result := <-completed:
		score, ok := result.PerUser[100]
		if !ok {
			t.Fatalf("expected user 100 in results")
		}
		if score.Correct != 1 || score.Answered != 1 || score.Total != 2 {
			t.Fatalf("unexpected score %+v", score)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expiry timer never completed the session")
	}
	if s.Status() != StatusCompleted {
		t.Fatalf("expected completed, got %s", s.Status())
	}
}

func TestSetDurationValidation(t *testing.T) {
	s := NewSession("s1", &fakeTransport{}, 1, 1, twoQuestions(), fastOptions(), Hooks{}, nil)

	if err := s.SetDuration(time.Minute); !errors.Is(err, ErrWrongState) {
		t.Fatalf("expected wrong-state error before AwaitDuration, got %v", err)
	}
	if err := s.AwaitDuration(); err != nil {
		t.Fatalf("await duration: %v", err)
	}
	if err := s.SetDuration(0); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected invalid duration, got %v", err)
	}
	if err := s.SetDuration(-time.Minute); !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected invalid duration, got %v", err)
	}
}

func TestLastWriteWinsBothOrders(t *testing.T) {
	t0 := time.Now()
	t1 := t0.Add(time.Second)
	t2 := t0.Add(2 * time.Second)

	run := func(first, second time.Time, firstLabel, secondLabel string) models.UserScore {
		tr := &fakeTransport{}
		s := NewSession("s1", tr, 1, 1, twoQuestions(), fastOptions(), Hooks{}, nil)
		startActive(t, s, time.Hour)

		if err := s.RecordAnswer("poll-1", 5, firstLabel, first); err != nil {
			t.Fatalf("first record: %v", err)
		}
		if err := s.RecordAnswer("poll-1", 5, secondLabel, second); err != nil {
			t.Fatalf("second record: %v", err)
		}
		if !s.CloseEarly() {
			t.Fatalf("close early failed")
		}
		result, ok := s.Result()
		if !ok {
			t.Fatalf("expected result")
		}
		return result.PerUser[5]
	}

	// Chronological processing: T2 answer "B" wins.
	inOrder := run(t1, t2, "A", "B")
	if inOrder.Correct != 1 || inOrder.Answered != 1 {
		t.Fatalf("in-order: expected T2 answer to win, got %+v", inOrder)
	}
	// Reversed processing: the T1 answer arrives last but must lose.
	reversed := run(t2, t1, "B", "A")
	if reversed.Correct != 1 || reversed.Answered != 1 {
		t.Fatalf("reversed: expected T2 answer to win, got %+v", reversed)
	}
}

func TestAnswerRejectionStates(t *testing.T) {
	s := NewSession("s1", &fakeTransport{}, 1, 1, twoQuestions(), fastOptions(), Hooks{}, nil)

	// Before the quiz is active every event is stale.
	if err := s.RecordAnswer("poll-1", 5, "A", time.Now()); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected stale event pre-active, got %v", err)
	}

	startActive(t, s, time.Hour)
	if err := s.RecordAnswer("no-such-poll", 5, "A", time.Now()); !errors.Is(err, ErrStaleEvent) {
		t.Fatalf("expected stale event for unknown poll, got %v", err)
	}

	if !s.CloseEarly() {
		t.Fatalf("close early failed")
	}
	if err := s.RecordAnswer("poll-1", 5, "A", time.Now()); !errors.Is(err, ErrLateAnswer) {
		t.Fatalf("expected late answer after close, got %v", err)
	}
}

func TestRetractionIsNoOp(t *testing.T) {
	s := NewSession("s1", &fakeTransport{}, 1, 1, twoQuestions(), fastOptions(), Hooks{}, nil)
	startActive(t, s, time.Hour)

	now := time.Now()
	if err := s.RecordAnswer("poll-1", 5, "B", now); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := s.RecordAnswer("poll-1", 5, "", now.Add(time.Second)); err != nil {
		t.Fatalf("retraction: %v", err)
	}

	s.CloseEarly()
	result, _ := s.Result()
	if score := result.PerUser[5]; score.Answered != 1 || score.Correct != 1 {
		t.Fatalf("expected the concrete choice to stand, got %+v", score)
	}
}

func TestCloseEarlyIdempotent(t *testing.T) {
	var completions int
	var mu sync.Mutex
	s := NewSession("s1", &fakeTransport{}, 1, 1, twoQuestions(), fastOptions(), Hooks{
		Completed: func(*Session, models.ScoreResult) {
			mu.Lock()
			completions++
			mu.Unlock()
		},
	}, nil)
	startActive(t, s, time.Hour)

	if !s.CloseEarly() {
		t.Fatalf("first close should win")
	}
	if s.CloseEarly() {
		t.Fatalf("second close should be a no-op")
	}
	mu.Lock()
	defer mu.Unlock()
	if completions != 1 {
		t.Fatalf("expected exactly one completion, got %d", completions)
	}
}

func TestCancelIdempotentAndStopsTimer(t *testing.T) {
	var cancels int
	var mu sync.Mutex
	s := NewSession("s1", &fakeTransport{}, 1, 1, twoQuestions(), fastOptions(), Hooks{
		Cancelled: func(*Session) {
			mu.Lock()
			cancels++
			mu.Unlock()
		},
		Completed: func(*Session, models.ScoreResult) {
			t.Errorf("cancelled session must not complete")
		},
	}, nil)
	startActive(t, s, 30*time.Millisecond)

	if !s.Cancel() {
		t.Fatalf("first cancel should win")
	}
	if s.Cancel() {
		t.Fatalf("second cancel should be a no-op")
	}

	// Wait past the would-be expiry; the timer must not fire scoring.
	time.Sleep(100 * time.Millisecond)
	if s.Status() != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", s.Status())
	}
	mu.Lock()
	defer mu.Unlock()
	if cancels != 1 {
		t.Fatalf("expected exactly one cancel hook call, got %d", cancels)
	}
}

func TestUndispatchedQuestionExcluded(t *testing.T) {
	// The first question exhausts all retry attempts, the second succeeds.
	tr := &fakeTransport{failFirst: 3}
	s := NewSession("s1", tr, 1, 1, twoQuestions(), fastOptions(), Hooks{}, nil)
	startActive(t, s, time.Hour)

	polls := tr.sentPolls()
	if len(polls) != 1 {
		t.Fatalf("expected 1 dispatched poll, got %d", len(polls))
	}

	// poll-1 is the second question (Correct: A).
	if err := s.RecordAnswer("poll-1", 9, "A", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	s.CloseEarly()
	result, _ := s.Result()
	score := result.PerUser[9]
	if score.Total != 1 {
		t.Fatalf("undispatched question must not count toward total, got %+v", score)
	}
	if score.Correct != 1 {
		t.Fatalf("expected 1 correct, got %+v", score)
	}
}

func TestAwaitTimeoutCancelsSession(t *testing.T) {
	opts := fastOptions()
	opts.AwaitTimeout = 20 * time.Millisecond
	cancelled := make(chan struct{}, 1)
	s := NewSession("s1", &fakeTransport{}, 1, 1, twoQuestions(), opts, Hooks{
		Cancelled: func(*Session) { cancelled <- struct{}{} },
	}, nil)

	if err := s.AwaitDuration(); err != nil {
		t.Fatalf("await duration: %v", err)
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("abandonment timeout never fired")
	}
	if s.Status() != StatusCancelled {
		t.Fatalf("expected cancelled, got %s", s.Status())
	}
}

func TestConcurrentAnswersAllCounted(t *testing.T) {
	s := NewSession("s1", &fakeTransport{}, 1, 1, twoQuestions(), fastOptions(), Hooks{}, nil)
	startActive(t, s, time.Hour)

	const users = 64
	var wg sync.WaitGroup
	for u := 0; u < users; u++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			if err := s.RecordAnswer("poll-1", userID, "B", time.Now()); err != nil {
				t.Errorf("record for user %d: %v", userID, err)
			}
			if err := s.RecordAnswer("poll-2", userID, "A", time.Now()); err != nil {
				t.Errorf("record for user %d: %v", userID, err)
			}
		}(int64(u + 1))
	}
	wg.Wait()

	s.CloseEarly()
	result, _ := s.Result()
	if len(result.PerUser) != users {
		t.Fatalf("expected %d participants, got %d", users, len(result.PerUser))
	}
	for userID, score := range result.PerUser {
		if score.Correct != 2 || score.Answered != 2 {
			t.Fatalf("user %d lost answers: %+v", userID, score)
		}
	}
}

func TestLiveScoreMidQuiz(t *testing.T) {
	s := NewSession("s1", &fakeTransport{}, 1, 1, twoQuestions(), fastOptions(), Hooks{}, nil)
	startActive(t, s, time.Hour)

	if _, ok := s.LiveScore(5); ok {
		t.Fatalf("expected no live score before any answer")
	}
	if err := s.RecordAnswer("poll-1", 5, "B", time.Now()); err != nil {
		t.Fatalf("record: %v", err)
	}
	score, ok := s.LiveScore(5)
	if !ok {
		t.Fatalf("expected live score")
	}
	if score.Correct != 1 || score.Answered != 1 || score.Total != 2 {
		t.Fatalf("unexpected live score %+v", score)
	}
}
