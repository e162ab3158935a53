// Package models defines the core data structures for ReflectLoop.
//
// It includes the conversation entity hierarchy (conversation, question
// response, attempt, classification entry), the wire-level request and
// response types, and the shared error taxonomy used across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// ConversationStatus tracks the lifecycle of an interview conversation.
type ConversationStatus string

const (
	// ConversationStatusPending indicates an interview that is still in progress.
	ConversationStatusPending ConversationStatus = "pending"
	// ConversationStatusCompleted indicates all catalog questions were answered.
	ConversationStatusCompleted ConversationStatus = "completed"
	// ConversationStatusInterrupted indicates the respondent left before finishing.
	ConversationStatusInterrupted ConversationStatus = "interrupted"
)

// IsValidConversationStatus checks if the given status is supported.
func IsValidConversationStatus(s ConversationStatus) bool {
	switch s {
	case ConversationStatusPending, ConversationStatusCompleted, ConversationStatusInterrupted:
		return true
	default:
		return false
	}
}

// AttemptKind distinguishes the first submission for a question from
// submissions answering a generated follow-up.
type AttemptKind string

const (
	// AttemptKindInitial marks the first attempt on a catalog question.
	AttemptKindInitial AttemptKind = "initial"
	// AttemptKindFollowup marks an attempt answering a follow-up question.
	AttemptKindFollowup AttemptKind = "followup"
)

// ClassificationEntry records one criterion's verdict within an attempt.
type ClassificationEntry struct {
	Criterion string `json:"criterion"`
	Met       bool   `json:"met"`
}

// Attempt represents one respondent submission addressing a question.
//
// QuestionText is the text that was actually presented to elicit this
// attempt: the catalog question for attempt 1, the previous attempt's
// generated follow-up otherwise. FollowupQuestion is only set when unmet
// criteria remain and the retry budget is not exhausted.
type Attempt struct {
	AttemptNumber    int                   `json:"attempt_number"` // 1-based, gapless
	Kind             AttemptKind           `json:"kind"`
	QuestionText     string                `json:"question_text"`
	ResponseText     string                `json:"response_text"`
	Classification   []ClassificationEntry `json:"classification"`
	UnmetCriteria    []string              `json:"unmet_criteria"`
	FollowupQuestion string                `json:"followup_question,omitempty"`
}

// QuestionResponse represents the respondent's full engagement with one
// catalog question: the question text snapshot, the current unmet-criteria
// set, and the ordered attempts.
type QuestionResponse struct {
	QuestionNumber int       `json:"question_number"` // 1-based, matches catalog order
	QuestionText   string    `json:"question_text"`
	UnmetCriteria  []string  `json:"unmet_criteria"`
	Attempts       []Attempt `json:"attempts"`
}

// Conversation represents one respondent's full interview instance.
type Conversation struct {
	ID        string             `json:"conversation_id"`
	Name      string             `json:"name"`
	Contact   string             `json:"contact"`
	Language  string             `json:"language"`
	Status    ConversationStatus `json:"status"`
	StartTime time.Time          `json:"start_time"`
	EndTime   *time.Time         `json:"end_time,omitempty"`
	Responses []QuestionResponse `json:"responses"`
}

// Error variables for better error handling and testability
var (
	ErrEmptyName            = errors.New("respondent name cannot be empty")
	ErrEmptyContact         = errors.New("respondent contact cannot be empty")
	ErrEmptyLanguage        = errors.New("language code cannot be empty")
	ErrUnsupportedLanguage  = errors.New("language code is not supported")
	ErrEmptyConversationID  = errors.New("conversation id cannot be empty")
	ErrEmptyResponseText    = errors.New("response text cannot be empty")
	ErrNegativeIndex        = errors.New("question index and attempt cannot be negative")
	ErrConversationNotFound = errors.New("conversation not found")
	ErrConversationDone     = errors.New("conversation is already completed")
	ErrStateMismatch        = errors.New("question index or attempt does not match conversation state")
	ErrClassification       = errors.New("classifier call failed")
	ErrGeneration           = errors.New("follow-up generation failed")
)

// StartInterviewRequest is the payload for beginning a new conversation.
type StartInterviewRequest struct {
	Name     string `json:"name"`
	Contact  string `json:"contact"`
	Language string `json:"language"`
}

// Validate performs input validation on a StartInterviewRequest.
// Language support is checked against the catalog by the engine.
func (r *StartInterviewRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return ErrEmptyName
	}
	if strings.TrimSpace(r.Contact) == "" {
		return ErrEmptyContact
	}
	if strings.TrimSpace(r.Language) == "" {
		return ErrEmptyLanguage
	}
	return nil
}

// AnswerRequest is the payload for submitting a response. Attempt is the
// caller's 0-based attempt index as round-tripped from the previous engine
// response (0 means the initial response to the question); the stored
// attempt number is Attempt+1.
type AnswerRequest struct {
	ConversationID string `json:"conversation_id"`
	QuestionIndex  int    `json:"question_index"`
	Attempt        int    `json:"attempt"`
	Response       string `json:"response"`
}

// Validate performs input validation on an AnswerRequest.
func (r *AnswerRequest) Validate() error {
	if strings.TrimSpace(r.ConversationID) == "" {
		return ErrEmptyConversationID
	}
	if r.QuestionIndex < 0 || r.Attempt < 0 {
		return ErrNegativeIndex
	}
	if strings.TrimSpace(r.Response) == "" {
		return ErrEmptyResponseText
	}
	return nil
}

// EndSessionRequest is the payload for ending a session. Temporary ends
// mark only the end time (browser close); permanent ends also flip the
// conversation to interrupted.
type EndSessionRequest struct {
	Temporary bool `json:"is_temporary"`
}

// StepResult is the engine's answer to a begin or submit call: either the
// next question to present or a terminal closing message.
type StepResult struct {
	ConversationID string `json:"conversation_id"`
	QuestionIndex  int    `json:"question_index"`
	Attempt        int    `json:"attempt"` // 0-based, round-tripped by the caller
	Question       string `json:"question,omitempty"`
	Completed      bool   `json:"completed"`
	ClosingMessage string `json:"closing_message,omitempty"`
}
