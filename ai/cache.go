package ai

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/korjavin/quizbot/models"
)

// Store persists explanations between runs. Implemented by database.DB.
type Store interface {
	GetExplanation(key string) (string, bool, error)
	PutExplanation(key, text string) error
}

// Cached wraps an Explainer with a persistent cache and collapses
// concurrent requests for the same question into one upstream call.
type Cached struct {
	inner Explainer
	store Store
	log   *zap.SugaredLogger
	group singleflight.Group
}

// NewCached wraps inner. store may be nil, which disables persistence but
// keeps the single-flight behavior.
func NewCached(inner Explainer, store Store, log *zap.SugaredLogger) *Cached {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cached{inner: inner, store: store, log: log}
}

func (c *Cached) Explain(ctx context.Context, q models.Question) (string, error) {
	key := questionKey(q)

	if c.store != nil {
		if text, ok, err := c.store.GetExplanation(key); err != nil {
			c.log.Warnw("explanation cache read failed", "error", err)
		} else if ok {
			return text, nil
		}
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		text, err := c.inner.Explain(ctx, q)
		if err != nil {
			return "", err
		}
		if c.store != nil {
			if err := c.store.PutExplanation(key, text); err != nil {
				c.log.Warnw("explanation cache write failed", "error", err)
			}
		}
		return text, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// questionKey hashes the question content so identical questions share a
// cache entry across documents and sessions.
func questionKey(q models.Question) string {
	var b strings.Builder
	b.WriteString(q.Text)
	for _, o := range q.Options {
		b.WriteString("\x00")
		b.WriteString(o.Label)
		b.WriteString(o.Text)
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
