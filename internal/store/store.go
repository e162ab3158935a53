// Package store provides storage backends for ReflectLoop conversations.
//
// Every write is an idempotent upsert keyed by the entity's natural key
// (conversation id, question number, attempt number, criterion), so replaying
// a save after a crash never creates duplicate rows. Three backends are
// provided: in-memory (tests and development), SQLite, and PostgreSQL.
package store

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ReflectLoop/ReflectLoop/internal/models"
)

// Store defines the persistence operations the interview engine depends on.
//
// GetConversation returns nil (not an error) when the conversation id is
// unknown; callers translate that into their own not-found handling.
type Store interface {
	UpsertConversation(c models.Conversation) error
	UpsertQuestionResponse(conversationID string, qr models.QuestionResponse) error
	UpsertAttempt(conversationID string, questionNumber int, a models.Attempt) error
	UpsertClassificationEntry(conversationID string, questionNumber, attemptNumber int, e models.ClassificationEntry) error
	GetConversation(conversationID string) (*models.Conversation, error)
	Close() error
}

// Opts holds store configuration options.
type Opts struct {
	DSN string
}

// Option configures the store.
type Option func(*Opts)

// WithSQLiteDSN sets a SQLite file path as the database DSN.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// WithPostgresDSN sets a PostgreSQL connection string as the database DSN.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) { o.DSN = dsn }
}

// DetectDSNType classifies a DSN string as "postgres" or "sqlite".
// PostgreSQL DSNs use URL schemes or key=value connection strings; anything
// else is treated as a SQLite file path.
func DetectDSNType(dsn string) string {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") || strings.Contains(dsn, "host=") {
		return "postgres"
	}
	return "sqlite"
}

// NewStore creates a store backend based on the configured DSN: PostgreSQL
// for postgres DSNs, SQLite for file paths, in-memory when no DSN is set.
func NewStore(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.DSN == "" {
		slog.Debug("NewStore: no DSN configured, using in-memory store")
		return NewInMemoryStore(), nil
	}
	if DetectDSNType(cfg.DSN) == "postgres" {
		slog.Debug("NewStore: postgres DSN detected")
		return NewPostgresStore(opts...)
	}
	slog.Debug("NewStore: sqlite DSN detected", "path", cfg.DSN)
	return NewSQLiteStore(opts...)
}

// InMemoryStore is a mutex-guarded in-memory store. It implements the same
// natural-key upsert semantics as the SQL backends and is used in tests and
// DSN-less development runs.
type InMemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string]*models.Conversation)}
}

// UpsertConversation creates or updates the conversation row. The question
// response list is managed by the finer-grained upserts and left untouched.
func (s *InMemoryStore) UpsertConversation(c models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.conversations[c.ID]
	if !ok {
		copied := copyConversation(&c)
		copied.Responses = nil
		s.conversations[c.ID] = copied
		return nil
	}
	existing.Name = c.Name
	existing.Contact = c.Contact
	existing.Language = c.Language
	existing.Status = c.Status
	existing.StartTime = c.StartTime
	existing.EndTime = copyTime(c.EndTime)
	return nil
}

// UpsertQuestionResponse creates or updates one question response row keyed
// by (conversation id, question number). Attempts are managed separately.
func (s *InMemoryStore) UpsertQuestionResponse(conversationID string, qr models.QuestionResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return fmt.Errorf("upsert question response: %w", models.ErrConversationNotFound)
	}
	for i := range conv.Responses {
		if conv.Responses[i].QuestionNumber == qr.QuestionNumber {
			conv.Responses[i].QuestionText = qr.QuestionText
			conv.Responses[i].UnmetCriteria = copyStrings(qr.UnmetCriteria)
			return nil
		}
	}
	conv.Responses = append(conv.Responses, models.QuestionResponse{
		QuestionNumber: qr.QuestionNumber,
		QuestionText:   qr.QuestionText,
		UnmetCriteria:  copyStrings(qr.UnmetCriteria),
	})
	sortQuestionResponses(conv.Responses)
	return nil
}

// UpsertAttempt creates or updates one attempt row keyed by (conversation id,
// question number, attempt number). Classification entries are managed
// separately.
func (s *InMemoryStore) UpsertAttempt(conversationID string, questionNumber int, a models.Attempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qr, err := s.findQuestionResponse(conversationID, questionNumber)
	if err != nil {
		return fmt.Errorf("upsert attempt: %w", err)
	}
	for i := range qr.Attempts {
		if qr.Attempts[i].AttemptNumber == a.AttemptNumber {
			qr.Attempts[i].Kind = a.Kind
			qr.Attempts[i].QuestionText = a.QuestionText
			qr.Attempts[i].ResponseText = a.ResponseText
			qr.Attempts[i].UnmetCriteria = copyStrings(a.UnmetCriteria)
			qr.Attempts[i].FollowupQuestion = a.FollowupQuestion
			return nil
		}
	}
	qr.Attempts = append(qr.Attempts, models.Attempt{
		AttemptNumber:    a.AttemptNumber,
		Kind:             a.Kind,
		QuestionText:     a.QuestionText,
		ResponseText:     a.ResponseText,
		UnmetCriteria:    copyStrings(a.UnmetCriteria),
		FollowupQuestion: a.FollowupQuestion,
	})
	sortAttempts(qr.Attempts)
	return nil
}

// UpsertClassificationEntry creates or updates one criterion verdict keyed by
// (conversation id, question number, attempt number, criterion).
func (s *InMemoryStore) UpsertClassificationEntry(conversationID string, questionNumber, attemptNumber int, e models.ClassificationEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	qr, err := s.findQuestionResponse(conversationID, questionNumber)
	if err != nil {
		return fmt.Errorf("upsert classification entry: %w", err)
	}
	for i := range qr.Attempts {
		if qr.Attempts[i].AttemptNumber != attemptNumber {
			continue
		}
		for j := range qr.Attempts[i].Classification {
			if qr.Attempts[i].Classification[j].Criterion == e.Criterion {
				qr.Attempts[i].Classification[j].Met = e.Met
				return nil
			}
		}
		qr.Attempts[i].Classification = append(qr.Attempts[i].Classification, e)
		return nil
	}
	return fmt.Errorf("upsert classification entry: attempt %d not found for question %d", attemptNumber, questionNumber)
}

// GetConversation returns a deep copy of the full stored hierarchy, or nil
// if the conversation id is unknown.
func (s *InMemoryStore) GetConversation(conversationID string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, nil
	}
	return copyConversation(conv), nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}

func (s *InMemoryStore) findQuestionResponse(conversationID string, questionNumber int) (*models.QuestionResponse, error) {
	conv, ok := s.conversations[conversationID]
	if !ok {
		return nil, models.ErrConversationNotFound
	}
	for i := range conv.Responses {
		if conv.Responses[i].QuestionNumber == questionNumber {
			return &conv.Responses[i], nil
		}
	}
	return nil, fmt.Errorf("question response %d not found", questionNumber)
}
