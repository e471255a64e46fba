package ai

import (
	"context"
	"sync"
	"testing"

	"github.com/korjavin/quizbot/models"
)

type countingExplainer struct {
	mu    sync.Mutex
	calls int
	text  string
}

func (c *countingExplainer) Explain(context.Context, models.Question) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.text, nil
}

type memStore struct {
	mu   sync.Mutex
	data map[string]string
}

func newMemStore() *memStore { return &memStore{data: make(map[string]string)} }

func (m *memStore) GetExplanation(key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	text, ok := m.data[key]
	return text, ok, nil
}

func (m *memStore) PutExplanation(key, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = text
	return nil
}

func sampleQuestion() models.Question {
	return models.Question{
		Number: 1,
		Text:   "What is 2+2?",
		Options: []models.Option{
			{Label: "A", Text: "3"}, {Label: "B", Text: "4"},
		},
	}
}

func TestCachedExplainerHitsStoreOnSecondCall(t *testing.T) {
	inner := &countingExplainer{text: "because arithmetic"}
	cached := NewCached(inner, newMemStore(), nil)
	q := sampleQuestion()

	first, err := cached.Explain(context.Background(), q)
	if err != nil {
		t.Fatalf("first explain: %v", err)
	}
	second, err := cached.Explain(context.Background(), q)
	if err != nil {
		t.Fatalf("second explain: %v", err)
	}
	if first != second || first != "because arithmetic" {
		t.Fatalf("unexpected explanations %q / %q", first, second)
	}
	if inner.calls != 1 {
		t.Fatalf("expected one upstream call, got %d", inner.calls)
	}
}

func TestQuestionKeyDependsOnContent(t *testing.T) {
	q1 := sampleQuestion()
	q2 := sampleQuestion()
	q2.Options[1].Text = "5"

	if questionKey(q1) == questionKey(q2) {
		t.Fatalf("different questions must not share a cache key")
	}
	if questionKey(q1) != questionKey(sampleQuestion()) {
		t.Fatalf("identical questions must share a cache key")
	}
}

func TestNotConfiguredExplainer(t *testing.T) {
	text, err := NotConfigured{}.Explain(context.Background(), sampleQuestion())
	if err != nil {
		t.Fatalf("not-configured explainer must not error: %v", err)
	}
	if text == "" {
		t.Fatalf("expected a fixed notice, got empty text")
	}
}
