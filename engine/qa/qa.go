// Package qa orchestrates the question/answer store: it validates input,
// turns text into embeddings, and persists or queries records in the
// vector store. It is stateless; everything it needs is injected.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AskBaseAI/askbase/engine/domain"
	"github.com/AskBaseAI/askbase/engine/semantic"
	"github.com/AskBaseAI/askbase/pkg/fn"
	"github.com/AskBaseAI/askbase/pkg/metrics"
	"github.com/AskBaseAI/askbase/pkg/ollama"
)

// Embedder maps free text to a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store abstracts the vector collection.
type Store interface {
	Upsert(ctx context.Context, records []semantic.VectorRecord) error
	Search(ctx context.Context, embedding []float32, limit int, minScore float32) ([]semantic.SearchResult, error)
	Scroll(ctx context.Context, cursor string, limit int) ([]semantic.StoredRecord, string, error)
	ScrollAll(ctx context.Context) ([]semantic.StoredRecord, error)
	DeleteByPayload(ctx context.Context, fields map[string]string) (int, error)
}

// Events receives fire-and-forget record notifications. Implementations
// must not fail the request; errors are theirs to log.
type Events interface {
	RecordAdded(ctx context.Context, rec domain.QARecord)
	RecordDeleted(ctx context.Context, question, answer string, removed int)
}

// Match is what callers get back from search and list: payload fields
// only, never vectors or internal ids.
type Match struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// Page is one cursor page of a paginated list.
type Page struct {
	Items      []Match `json:"items"`
	NextCursor string  `json:"next_cursor,omitempty"`
}

// Options configures the service.
type Options struct {
	// MinScore excludes search hits below this cosine similarity.
	MinScore float32
	// Retry bounds retries of transient backend failures. Validation
	// errors are never retried.
	Retry fn.RetryOpts
	// Metrics is optional; nil disables instrumentation.
	Metrics *metrics.Registry
}

// DefaultOptions returns the configuration the service ships with.
func DefaultOptions() Options {
	return Options{
		MinScore: 0.31,
		Retry:    fn.DefaultRetry,
	}
}

// Service is the stateless QA request orchestrator.
type Service struct {
	embed  Embedder
	store  Store
	events Events
	opts   Options
	logger *slog.Logger
}

// New creates a Service. events may be nil to disable notifications.
func New(embed Embedder, store Store, events Events, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Retry.RetryIf == nil {
		opts.Retry.RetryIf = retryable
	}
	return &Service{
		embed:  embed,
		store:  store,
		events: events,
		opts:   opts,
		logger: logger,
	}
}

// retryable marks transient backend failures: gRPC connectivity errors
// from the store, network errors and 5xx from the embedding provider.
func retryable(err error) bool {
	var se *ollama.StatusError
	if errors.As(err, &se) {
		return se.Transient()
	}
	return domain.IsTransient(err)
}

// Add embeds the concatenated pair once and persists it under a fresh id.
// Identical pairs added twice produce two distinct records.
func (s *Service) Add(ctx context.Context, question, answer string) (string, error) {
	start := time.Now()

	if err := domain.ValidatePair(question, answer); err != nil {
		s.observe("add", start, err)
		return "", err
	}

	rec := domain.NewRecord(question, answer)

	vec, err := s.embedText(ctx, rec.EmbeddingText())
	if err != nil {
		s.logger.Error("add: embed failed", "err", err, "question_len", len(question))
		s.observe("add", start, err)
		return "", fmt.Errorf("qa: embed pair: %w", err)
	}

	_, err = fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.store.Upsert(ctx, []semantic.VectorRecord{{
			ID:        rec.ID,
			Embedding: vec,
			Question:  rec.Question,
			Answer:    rec.Answer,
		}})
	})
	if err != nil {
		s.logger.Error("add: upsert failed", "err", err, "id", rec.ID)
		s.observe("add", start, err)
		return "", fmt.Errorf("qa: store pair: %w", err)
	}

	if s.events != nil {
		s.events.RecordAdded(ctx, rec)
	}
	s.logger.Info("record added", "id", rec.ID, "question_len", len(question))
	s.observe("add", start, nil)
	return rec.ID, nil
}

// Search embeds the raw query and returns up to top matches at or above
// the similarity threshold, most-similar first. Fewer than top results,
// including zero, is normal.
func (s *Service) Search(ctx context.Context, query string, top int) ([]Match, error) {
	start := time.Now()

	if err := domain.ValidateQuery(query); err != nil {
		s.observe("search", start, err)
		return nil, err
	}
	top, err := domain.NormalizeTop(top)
	if err != nil {
		s.observe("search", start, err)
		return nil, err
	}

	vec, err := s.embedText(ctx, query)
	if err != nil {
		s.logger.Error("search: embed failed", "err", err, "query_len", len(query))
		s.observe("search", start, err)
		return nil, fmt.Errorf("qa: embed query: %w", err)
	}

	results, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) ([]semantic.SearchResult, error) {
		return s.store.Search(ctx, vec, top, s.opts.MinScore)
	})
	if err != nil {
		s.logger.Error("search: store failed", "err", err, "query_len", len(query))
		s.observe("search", start, err)
		return nil, fmt.Errorf("qa: search: %w", err)
	}

	matches := make([]Match, len(results))
	for i, r := range results {
		matches[i] = Match{Question: r.Question, Answer: r.Answer}
	}
	s.logger.Info("search done", "results", len(matches), "top", top)
	s.observe("search", start, nil)
	return matches, nil
}

// ListAll returns every stored pair, unordered.
func (s *Service) ListAll(ctx context.Context) ([]Match, error) {
	start := time.Now()

	records, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) ([]semantic.StoredRecord, error) {
		return s.store.ScrollAll(ctx)
	})
	if err != nil {
		s.logger.Error("list: scan failed", "err", err)
		s.observe("list", start, err)
		return nil, fmt.Errorf("qa: list all: %w", err)
	}

	matches := make([]Match, len(records))
	for i, r := range records {
		matches[i] = Match{Question: r.Question, Answer: r.Answer}
	}
	s.observe("list", start, nil)
	return matches, nil
}

// List returns one cursor page of stored pairs. An empty cursor starts the
// scan; an empty NextCursor ends it.
func (s *Service) List(ctx context.Context, cursor string, limit int) (*Page, error) {
	start := time.Now()

	if limit < 1 || limit > domain.MaxTop {
		err := domain.NewValidationError("limit", domain.ErrTopOutOfRange)
		s.observe("list", start, err)
		return nil, err
	}

	type page struct {
		records []semantic.StoredRecord
		next    string
	}
	p, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) (page, error) {
		records, next, err := s.store.Scroll(ctx, cursor, limit)
		return page{records, next}, err
	})
	if err != nil {
		s.logger.Error("list: page failed", "err", err, "cursor", cursor)
		s.observe("list", start, err)
		return nil, fmt.Errorf("qa: list page: %w", err)
	}

	items := make([]Match, len(p.records))
	for i, r := range p.records {
		items[i] = Match{Question: r.Question, Answer: r.Answer}
	}
	s.observe("list", start, nil)
	return &Page{Items: items, NextCursor: p.next}, nil
}

// Delete removes every record whose question AND answer both equal the
// given pair exactly, and returns how many were removed. Zero matches is
// a success.
func (s *Service) Delete(ctx context.Context, question, answer string) (int, error) {
	start := time.Now()

	if err := domain.ValidatePair(question, answer); err != nil {
		s.observe("delete", start, err)
		return 0, err
	}

	removed, err := fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) (int, error) {
		return s.store.DeleteByPayload(ctx, map[string]string{
			domain.PayloadQuestion: question,
			domain.PayloadAnswer:   answer,
		})
	})
	if err != nil {
		s.logger.Error("delete: store failed", "err", err, "question_len", len(question))
		s.observe("delete", start, err)
		return 0, fmt.Errorf("qa: delete pair: %w", err)
	}

	if s.events != nil {
		s.events.RecordDeleted(ctx, question, answer, removed)
	}
	s.logger.Info("records deleted", "removed", removed)
	s.observe("delete", start, nil)
	return removed, nil
}

func (s *Service) embedText(ctx context.Context, text string) ([]float32, error) {
	return fn.Retry(ctx, s.opts.Retry, func(ctx context.Context) ([]float32, error) {
		return s.embed.Embed(ctx, text)
	})
}

func (s *Service) observe(op string, start time.Time, err error) {
	if s.opts.Metrics == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
		if domain.IsValidation(err) {
			result = "invalid"
		}
	}
	s.opts.Metrics.Counter(
		metrics.WithLabels("qa_requests_total", "op", op, "result", result),
		"QA operations by result.",
	).Inc()
	s.opts.Metrics.Histogram(
		metrics.WithLabels("qa_op_duration_seconds", "op", op),
		"QA operation latency.",
		nil,
	).Since(start)
}
