package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"quiz-round-service/internal/domain"
)

// QuestionLoader fetches questions from a backing store (e.g., Postgres).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, pollID string) ([]domain.Question, error)
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// StatusWriter persists question status changes.
type StatusWriter interface {
	MarkOpen(ctx context.Context, questionID string) error
	MarkClosed(ctx context.Context, questionID string) error
}

// CachedCatalog caches each poll's questions in Redis (hash per poll) and falls
// back to a loader on cache miss. Questions are stored as:
//
//	HSET quiz:poll:{pollID}:questions {questionID} <question json>
//	SET  quiz:question:{questionID}:poll {pollID}
type CachedCatalog struct {
	client *redis.Client
	loader QuestionLoader
	writer StatusWriter
	ttl    time.Duration
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex
}

func NewCachedCatalog(client *redis.Client, loader QuestionLoader, writer StatusWriter, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		client: client,
		loader: loader,
		writer: writer,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *CachedCatalog) QuestionsFor(ctx context.Context, pollID string) ([]domain.Question, error) {
	if questions, ok := c.fromCache(ctx, pollID); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(pollID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if questions, ok := c.fromCache(ctx, pollID); ok {
			return questions, nil
		}

		questions, err := c.loader.LoadQuestions(ctx, pollID)
		if err != nil {
			return nil, err
		}
		c.fill(ctx, pollID, questions)
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *CachedCatalog) NextAfter(ctx context.Context, pollID string, order int) (domain.Question, bool, error) {
	questions, err := c.QuestionsFor(ctx, pollID)
	if err != nil {
		return domain.Question{}, false, err
	}
	next, ok := domain.NextAfter(questions, order)
	return next, ok, nil
}

func (c *CachedCatalog) Question(ctx context.Context, questionID string) (domain.Question, error) {
	pollID, err := c.client.Get(ctx, c.ownerKey(questionID)).Result()
	if err == nil {
		raw, err := c.client.HGet(ctx, c.pollKey(pollID), questionID).Result()
		if err == nil {
			var q domain.Question
			if json.Unmarshal([]byte(raw), &q) == nil {
				return q, nil
			}
		}
	}

	q, err := c.loader.LoadQuestion(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	_, _ = c.QuestionsFor(ctx, q.PollID)
	return q, nil
}

func (c *CachedCatalog) MarkOpen(ctx context.Context, questionID string) error {
	if err := c.writer.MarkOpen(ctx, questionID); err != nil {
		return err
	}
	return c.invalidate(ctx, questionID)
}

func (c *CachedCatalog) MarkClosed(ctx context.Context, questionID string) error {
	if err := c.writer.MarkClosed(ctx, questionID); err != nil {
		return err
	}
	return c.invalidate(ctx, questionID)
}

func (c *CachedCatalog) invalidate(ctx context.Context, questionID string) error {
	pollID, err := c.client.Get(ctx, c.ownerKey(questionID)).Result()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return err
	}
	return c.client.Del(ctx, c.pollKey(pollID)).Err()
}

func (c *CachedCatalog) fromCache(ctx context.Context, pollID string) ([]domain.Question, bool) {
	entries, err := c.client.HGetAll(ctx, c.pollKey(pollID)).Result()
	if err != nil || len(entries) == 0 {
		return nil, false
	}
	questions := make([]domain.Question, 0, len(entries))
	for _, raw := range entries {
		var q domain.Question
		if err := json.Unmarshal([]byte(raw), &q); err != nil {
			return nil, false
		}
		questions = append(questions, q)
	}
	sort.Slice(questions, func(i, j int) bool { return questions[i].Order < questions[j].Order })
	return questions, true
}

func (c *CachedCatalog) fill(ctx context.Context, pollID string, questions []domain.Question) {
	if len(questions) == 0 {
		return
	}
	ttl := c.ttlWithJitter()
	pollKey := c.pollKey(pollID)
	pipe := c.client.Pipeline()
	for _, q := range questions {
		raw, err := json.Marshal(q)
		if err != nil {
			return
		}
		pipe.HSet(ctx, pollKey, q.ID, raw)
		pipe.Set(ctx, c.ownerKey(q.ID), pollID, ttl)
	}
	if ttl > 0 {
		pipe.Expire(ctx, pollKey, ttl)
	}
	_, _ = pipe.Exec(ctx)
}

func (c *CachedCatalog) pollKey(pollID string) string {
	return "quiz:poll:" + pollID + ":questions"
}

func (c *CachedCatalog) ownerKey(questionID string) string {
	return "quiz:question:" + questionID + ":poll"
}

func (c *CachedCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
