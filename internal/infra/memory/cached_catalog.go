package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"quiz-round-service/internal/domain"
)

// QuestionLoader fetches questions from a backing store (Postgres, or a Store).
type QuestionLoader interface {
	LoadQuestions(ctx context.Context, pollID string) ([]domain.Question, error)
	LoadQuestion(ctx context.Context, questionID string) (domain.Question, error)
}

// StatusWriter persists question status changes.
type StatusWriter interface {
	MarkOpen(ctx context.Context, questionID string) error
	MarkClosed(ctx context.Context, questionID string) error
}

// CachedCatalog caches each poll's question list with a TTL to avoid repeated
// DB hits on the submission path. Status changes go straight to the writer and
// drop the poll's entry.
type CachedCatalog struct {
	loader QuestionLoader
	writer StatusWriter
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand
	rndMu  sync.Mutex

	mu     sync.RWMutex
	cache  map[string]cachedPoll
	owners map[string]string // question id -> poll id
}

type cachedPoll struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewCachedCatalog(loader QuestionLoader, writer StatusWriter, ttl time.Duration) *CachedCatalog {
	return &CachedCatalog{
		loader: loader,
		writer: writer,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPoll),
		owners: make(map[string]string),
	}
}

func (c *CachedCatalog) QuestionsFor(ctx context.Context, pollID string) ([]domain.Question, error) {
	if questions, ok := c.lookup(pollID); ok {
		return questions, nil
	}

	result, err, _ := c.sf.Do(pollID, func() (interface{}, error) {
		if questions, ok := c.lookup(pollID); ok {
			return questions, nil
		}
		now := c.clock()
		questions, err := c.loader.LoadQuestions(ctx, pollID)
		if err != nil {
			return nil, err
		}
		// A poll without questions is still being authored.
		if len(questions) == 0 {
			return questions, nil
		}

		c.mu.Lock()
		c.cache[pollID] = cachedPoll{
			questions: cloneQuestions(questions),
			expiresAt: now.Add(c.ttlWithJitter()),
		}
		for _, q := range questions {
			c.owners[q.ID] = pollID
		}
		c.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return cloneQuestions(result.([]domain.Question)), nil
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
	c.mu.RLock()
	pollID, known := c.owners[questionID]
	c.mu.RUnlock()
	if known {
		if questions, ok := c.lookup(pollID); ok {
			for _, q := range questions {
				if q.ID == questionID {
					return q, nil
				}
			}
		}
	}

	q, err := c.loader.LoadQuestion(ctx, questionID)
	if err != nil {
		return domain.Question{}, err
	}
	// Warm the poll entry so the next lookup is served from memory.
	_, _ = c.QuestionsFor(ctx, q.PollID)
	return q, nil
}

func (c *CachedCatalog) MarkOpen(ctx context.Context, questionID string) error {
	defer c.invalidate(questionID)
	return c.writer.MarkOpen(ctx, questionID)
}

func (c *CachedCatalog) MarkClosed(ctx context.Context, questionID string) error {
	defer c.invalidate(questionID)
	return c.writer.MarkClosed(ctx, questionID)
}

func (c *CachedCatalog) invalidate(questionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pollID, ok := c.owners[questionID]; ok {
		delete(c.cache, pollID)
	}
}

func (c *CachedCatalog) lookup(pollID string) ([]domain.Question, bool) {
	now := c.clock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[pollID]
	if !ok || !entry.expiresAt.After(now) {
		return nil, false
	}
	return cloneQuestions(entry.questions), true
}

func (c *CachedCatalog) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}

func cloneQuestions(in []domain.Question) []domain.Question {
	out := make([]domain.Question, len(in))
	for i, q := range in {
		out[i] = cloneQuestion(q)
	}
	return out
}
