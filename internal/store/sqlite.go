// Package store provides storage backends for ReflectLoop conversations.
//
// This file implements the SQLite-backed store.
package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/ReflectLoop/ReflectLoop/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

// SQLiteStore persists the conversation hierarchy in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("NewSQLiteStore invoked", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore DSN not set")
		return nil, fmt.Errorf("database DSN not set")
	}

	// Ensure the directory exists
	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("Failed to open SQLite connection", "error", err)
		return nil, err
	}

	if err := db.Ping(); err != nil {
		slog.Error("SQLite ping failed", "error", err)
		return nil, err
	}

	// Run migrations to ensure tables exist
	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("Failed to run migrations", "error", err)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLite migrations applied successfully")

	return &SQLiteStore{db: db}, nil
}

// UpsertConversation creates or updates the conversation row keyed by its id.
func (s *SQLiteStore) UpsertConversation(c models.Conversation) error {
	query := `
		INSERT INTO conversations (conversation_id, name, contact, language, status, start_time, end_time)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id) DO UPDATE SET
			name = excluded.name,
			contact = excluded.contact,
			language = excluded.language,
			status = excluded.status,
			start_time = excluded.start_time,
			end_time = excluded.end_time`

	_, err := s.db.Exec(query, c.ID, c.Name, c.Contact, c.Language, string(c.Status), c.StartTime, nilIfZeroTime(c.EndTime))
	if err != nil {
		slog.Error("SQLiteStore UpsertConversation failed", "error", err, "conversationID", c.ID)
		return fmt.Errorf("failed to upsert conversation %s: %w", c.ID, err)
	}
	slog.Debug("SQLiteStore UpsertConversation succeeded", "conversationID", c.ID, "status", c.Status)
	return nil
}

// UpsertQuestionResponse creates or updates one question response row keyed
// by (conversation id, question number).
func (s *SQLiteStore) UpsertQuestionResponse(conversationID string, qr models.QuestionResponse) error {
	unmetJSON, err := marshalCriteria(qr.UnmetCriteria)
	if err != nil {
		slog.Error("SQLiteStore UpsertQuestionResponse marshal failed", "error", err, "conversationID", conversationID)
		return err
	}

	query := `
		INSERT INTO question_responses (conversation_id, question_number, question_text, unmet_criteria)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(conversation_id, question_number) DO UPDATE SET
			question_text = excluded.question_text,
			unmet_criteria = excluded.unmet_criteria`

	_, err = s.db.Exec(query, conversationID, qr.QuestionNumber, qr.QuestionText, unmetJSON)
	if err != nil {
		slog.Error("SQLiteStore UpsertQuestionResponse failed", "error", err, "conversationID", conversationID, "questionNumber", qr.QuestionNumber)
		return fmt.Errorf("failed to upsert question response %d for %s: %w", qr.QuestionNumber, conversationID, err)
	}
	slog.Debug("SQLiteStore UpsertQuestionResponse succeeded", "conversationID", conversationID, "questionNumber", qr.QuestionNumber)
	return nil
}

// UpsertAttempt creates or updates one attempt row keyed by (conversation id,
// question number, attempt number).
func (s *SQLiteStore) UpsertAttempt(conversationID string, questionNumber int, a models.Attempt) error {
	unmetJSON, err := marshalCriteria(a.UnmetCriteria)
	if err != nil {
		slog.Error("SQLiteStore UpsertAttempt marshal failed", "error", err, "conversationID", conversationID)
		return err
	}

	query := `
		INSERT INTO attempts (conversation_id, question_number, attempt_number, kind, question_text, response_text, unmet_criteria, followup_question)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(conversation_id, question_number, attempt_number) DO UPDATE SET
			kind = excluded.kind,
			question_text = excluded.question_text,
			response_text = excluded.response_text,
			unmet_criteria = excluded.unmet_criteria,
			followup_question = excluded.followup_question`

	_, err = s.db.Exec(query, conversationID, questionNumber, a.AttemptNumber, string(a.Kind),
		a.QuestionText, a.ResponseText, unmetJSON, nilIfEmpty(a.FollowupQuestion))
	if err != nil {
		slog.Error("SQLiteStore UpsertAttempt failed", "error", err, "conversationID", conversationID, "questionNumber", questionNumber, "attemptNumber", a.AttemptNumber)
		return fmt.Errorf("failed to upsert attempt %d for question %d of %s: %w", a.AttemptNumber, questionNumber, conversationID, err)
	}
	slog.Debug("SQLiteStore UpsertAttempt succeeded", "conversationID", conversationID, "questionNumber", questionNumber, "attemptNumber", a.AttemptNumber)
	return nil
}

// UpsertClassificationEntry creates or updates one criterion verdict keyed by
// (conversation id, question number, attempt number, criterion). The position
// column records insertion order so reads are deterministic; a re-save keeps
// the original position.
func (s *SQLiteStore) UpsertClassificationEntry(conversationID string, questionNumber, attemptNumber int, e models.ClassificationEntry) error {
	query := `
		INSERT INTO classifications (conversation_id, question_number, attempt_number, criterion, is_met, position)
		VALUES (?, ?, ?, ?, ?,
			(SELECT COUNT(*) FROM classifications
			 WHERE conversation_id = ? AND question_number = ? AND attempt_number = ?))
		ON CONFLICT(conversation_id, question_number, attempt_number, criterion) DO UPDATE SET
			is_met = excluded.is_met`

	_, err := s.db.Exec(query, conversationID, questionNumber, attemptNumber, e.Criterion, e.Met,
		conversationID, questionNumber, attemptNumber)
	if err != nil {
		slog.Error("SQLiteStore UpsertClassificationEntry failed", "error", err, "conversationID", conversationID, "questionNumber", questionNumber, "attemptNumber", attemptNumber)
		return fmt.Errorf("failed to upsert classification entry for %s: %w", conversationID, err)
	}
	return nil
}

// GetConversation loads the full stored hierarchy for a conversation, or
// returns nil if the id is unknown.
func (s *SQLiteStore) GetConversation(conversationID string) (*models.Conversation, error) {
	var conv models.Conversation
	var status string
	var endTime sql.NullTime

	err := s.db.QueryRow(
		`SELECT conversation_id, name, contact, language, status, start_time, end_time
		 FROM conversations WHERE conversation_id = ?`, conversationID).
		Scan(&conv.ID, &conv.Name, &conv.Contact, &conv.Language, &status, &conv.StartTime, &endTime)
	if err == sql.ErrNoRows {
		slog.Debug("SQLiteStore GetConversation not found", "conversationID", conversationID)
		return nil, nil
	}
	if err != nil {
		slog.Error("SQLiteStore GetConversation failed", "error", err, "conversationID", conversationID)
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

	slog.Debug("SQLiteStore GetConversation succeeded", "conversationID", conversationID, "questionResponses", len(conv.Responses))
	return &conv, nil
}

func (s *SQLiteStore) loadQuestionResponses(conversationID string) ([]models.QuestionResponse, error) {
	rows, err := s.db.Query(
		`SELECT question_number, question_text, unmet_criteria
		 FROM question_responses WHERE conversation_id = ? ORDER BY question_number`, conversationID)
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

func (s *SQLiteStore) loadAttempts(conversationID string, questionNumber int) ([]models.Attempt, error) {
	rows, err := s.db.Query(
		`SELECT attempt_number, kind, question_text, response_text, unmet_criteria, followup_question
		 FROM attempts WHERE conversation_id = ? AND question_number = ? ORDER BY attempt_number`,
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

func (s *SQLiteStore) loadClassifications(conversationID string, questionNumber, attemptNumber int) ([]models.ClassificationEntry, error) {
	rows, err := s.db.Query(
		`SELECT criterion, is_met
		 FROM classifications WHERE conversation_id = ? AND question_number = ? AND attempt_number = ?
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

// Close closes the SQLite database connection.
func (s *SQLiteStore) Close() error {
	slog.Debug("Closing SQLite database connection")
	err := s.db.Close()
	if err != nil {
		slog.Error("Failed to close SQLite database", "error", err)
	}
	return err
}
