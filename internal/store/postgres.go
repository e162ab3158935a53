// Package store provides storage backends for ReflectLoop conversations.
//
// This file implements the PostgreSQL-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"

	_ "embed"

	"github.com/ReflectLoop/ReflectLoop/internal/models"
	_ "github.com/lib/pq"
)

//go:embed migrations_postgres.sql
var postgresMigrations string

// PostgresStore persists the conversation hierarchy in a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL store with the given DSN.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewPostgresStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("Failed to open PostgreSQL connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("PostgreSQL ping failed", "error", err)
		return nil, err
	}

	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgreSQL migrations applied successfully")

	return &PostgresStore{db: db}, nil
}

// UpsertConversation creates or updates the conversation row keyed by its id.
func (s *PostgresStore) UpsertConversation(c models.Conversation) error {
	query := `
		INSERT INTO conversations (conversation_id, name, contact, language, status, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (conversation_id) DO UPDATE SET
			name = EXCLUDED.name,
			contact = EXCLUDED.contact,
			language = EXCLUDED.language,
			status = EXCLUDED.status,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time`

	_, err := s.db.Exec(query, c.ID, c.Name, c.Contact, c.Language, string(c.Status), c.StartTime, nilIfZeroTime(c.EndTime))
	if err != nil {
		slog.Error("PostgresStore UpsertConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to upsert conversation %s: %w", c.ID, err)
	}
	slog.Debug("PostgresStore UpsertConversation succeeded", "conversationID", c.ID, "status", c.Status)
	return nil
}

// UpsertQuestionResponse creates or updates one question response row keyed
// by (conversation id, question number).
func (s *PostgresStore) UpsertQuestionResponse(conversationID string, qr models.QuestionResponse) error {
	unmetJSON, err := marshalCriteria(qr.UnmetCriteria)
	if err != nil {
		slog.Error("PostgresStore UpsertQuestionResponse marshal failed", "error", err, "conversationID", conversationID)
		return err
	}

	query := `
		INSERT INTO question_responses (conversation_id, question_number, question_text, unmet_criteria)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (conversation_id, question_number) DO UPDATE SET
			question_text = EXCLUDED.question_text,
			unmet_criteria = EXCLUDED.unmet_criteria`

	_, err = s.db.Exec(query, conversationID, qr.QuestionNumber, qr.QuestionText, unmetJSON)
	if err != nil {
		slog.Error("PostgresStore UpsertQuestionResponse failed", "error", err, "conversationID", conversationID, "questionNumber", qr.QuestionNumber)
		return fmt.Errorf("failed to upsert question response %d for %s: %w", qr.QuestionNumber, conversationID, err)
	}
	return nil
}

// UpsertAttempt creates or updates one attempt row keyed by (conversation id,
// question number, attempt number).
func (s *PostgresStore) UpsertAttempt(conversationID string, questionNumber int, a models.Attempt) error {
	unmetJSON, err := marshalCriteria(a.UnmetCriteria)
	if err != nil {
		slog.Error("PostgresStore UpsertAttempt marshal failed", "error", err, "conversationID", conversationID)
		return err
	}

	query := `
		INSERT INTO attempts (conversation_id, question_number, attempt_number, kind, question_text, response_text, unmet_criteria, followup_question)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (conversation_id, question_number, attempt_number) DO UPDATE SET
			kind = EXCLUDED.kind,
			question_text = EXCLUDED.question_text,
			response_text = EXCLUDED.response_text,
			unmet_criteria = EXCLUDED.unmet_criteria,
			followup_question = EXCLUDED.followup_question`

	_, err = s.db.Exec(query, conversationID, questionNumber, a.AttemptNumber, string(a.Kind),
		a.QuestionText, a.ResponseText, unmetJSON, nilIfEmpty(a.FollowupQuestion))
	if err != nil {
		slog.Error("PostgresStore UpsertAttempt failed", "error", err, "conversationID", conversationID, "questionNumber", questionNumber, "attemptNumber", a.AttemptNumber)
		return fmt.Errorf("failed to upsert attempt %d for question %d of %s: %w", a.AttemptNumber, questionNumber, conversationID, err)
	}
	return nil
}

// UpsertClassificationEntry creates or updates one criterion verdict keyed by
// (conversation id, question number, attempt number, criterion). The position
// column records insertion order so reads are deterministic; a re-save keeps
// the original position.
func (s *PostgresStore) UpsertClassificationEntry(conversationID string, questionNumber, attemptNumber int, e models.ClassificationEntry) error {
	query := `
		INSERT INTO classifications (conversation_id, question_number, attempt_number, criterion, is_met, position)
		VALUES ($1, $2, $3, $4, $5,
			(SELECT COUNT(*) FROM classifications
			 WHERE conversation_id = $1 AND question_number = $2 AND attempt_number = $3))
		ON CONFLICT (conversation_id, question_number, attempt_number, criterion) DO UPDATE SET
			is_met = EXCLUDED.is_met`

	_, err := s.db.Exec(query, conversationID, questionNumber, attemptNumber, e.Criterion, e.Met)
	if err != nil {
		slog.Error("PostgresStore UpsertClassificationEntry failed", "error", err, "conversationID", conversationID, "questionNumber", questionNumber, "attemptNumber", attemptNumber)
		return fmt.Errorf("failed to upsert classification entry for %s: %w", conversationID, err)
	}
	return nil
}

// GetConversation loads the full stored hierarchy for a conversation, or
// returns nil if the id is unknown.
func (s *PostgresStore) GetConversation(conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	var status string
	var endTime sql.NullTime

	err := s.db.QueryRow(
		`SELECT conversation_id, name, contact, language, status, start_time, end_time
		 FROM conversations WHERE conversation_id = $1`, conversationID).
		Scan(&conv.ID, &conv.Name, &conv.Contact, &conv.Language, &status, &conv.StartTime, &endTime)
	if err == sql.ErrNoRows {
		slog.Debug("PostgresStore GetConversation not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("PostgresStore GetConversation failed", "error", err, "conversationID", conversationID)
		return nil, fmt.Errorf("failed to query conversation %s: %w", conversationID, err)
	}
	conv.Status = models.ConversationStatus(status)
	if endTime.Valid {
		conv.EndTime = &endTime.Time
	}

	responses, err := s.loadQuestionResponses(conversationID)
	if err != nil {
		return nil, err
	}
	conv.Responses = responses
	return &conv, nil
}

func (s *PostgresStore) loadQuestionResponses(conversationID string) ([]models.QuestionResponse, error) {
	rows, err := s.db.Query(
		`SELECT question_number, question_text, unmet_criteria
		 FROM question_responses WHERE conversation_id = $1 ORDER BY question_number`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query question responses for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var responses []models.QuestionResponse
	for rows.Next() {
		var qr models.QuestionResponse
		var unmetJSON string
		if err := rows.Scan(&qr.QuestionNumber, &qr.QuestionText, &unmetJSON); err != nil {
			return nil, fmt.Errorf("failed to scan question response row: %w", err)
		}
		if qr.UnmetCriteria, err = unmarshalCriteria(unmetJSON); err != nil {
			return nil, err
		}
		responses = append(responses, qr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate question response rows: %w", err)
	}

	for i := range responses {
		attempts, err := s.loadAttempts(conversationID, responses[i].QuestionNumber)
		if err != nil {
			return nil, err
		}
		responses[i].Attempts = attempts
	}
	return responses, nil
}

func (s *PostgresStore) loadAttempts(conversationID string, questionNumber int) ([]models.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT attempt_number, kind, question_text, response_text, unmet_criteria, followup_question
		 FROM attempts WHERE conversation_id = $1 AND question_number = $2 ORDER BY attempt_number`,
		conversationID, questionNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts for question %d of %s: %w", questionNumber, conversationID, err)
	}
	defer rows.Close()

	var attempts []models.Attempt
	for rows.Next() {
		var a models.Attempt
		var kind, unmetJSON string
		var followup sql.NullString
		if err := rows.Scan(&a.AttemptNumber, &kind, &a.QuestionText, &a.ResponseText, &unmetJSON, &followup); err != nil {
			return nil, fmt.Errorf("failed to scan attempt row: %w", err)
		}
		a.Kind = models.AttemptKind(kind)
		a.FollowupQuestion = followup.String
		if a.UnmetCriteria, err = unmarshalCriteria(unmetJSON); err != nil {
			return nil, err
		}
		attempts = append(attempts, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attempt rows: %w", err)
	}

	for i := range attempts {
		entries, err := s.loadClassifications(conversationID, questionNumber, attempts[i].AttemptNumber)
		if err != nil {
			return nil, err
		}
		attempts[i].Classification = entries
	}
	return attempts, nil
}

func (s *PostgresStore) loadClassifications(conversationID string, questionNumber, attemptNumber int) ([]models.ClassificationEntry, error) {
	rows, err := s.db.Query(
		`SELECT criterion, is_met
		 FROM classifications WHERE conversation_id = $1 AND question_number = $2 AND attempt_number = $3
		 ORDER BY position`,
		conversationID, questionNumber, attemptNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to query classifications for %s: %w", conversationID, err)
	}
	defer rows.Close()

	var entries []models.ClassificationEntry
	for rows.Next() {
		var e models.ClassificationEntry
		if err := rows.Scan(&e.Criterion, &e.Met); err != nil {
			return nil, fmt.Errorf("failed to scan classification row: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate classification rows: %w", err)
	}
	return entries, nil
}

// Close closes the PostgreSQL database connection.
func (s *PostgresStore) Close() error {
	slog.Debug("Closing PostgreSQL database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close PostgreSQL database", "error", err)
	}
	return err
}
