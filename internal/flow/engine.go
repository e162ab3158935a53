package flow

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ReflectLoop/ReflectLoop/internal/catalog"
	"github.com/ReflectLoop/ReflectLoop/internal/models"
	"github.com/ReflectLoop/ReflectLoop/internal/store"
	"github.com/google/uuid"
)

// MaxAttemptsPerQuestion is the retry ceiling: after this many attempts the
// engine advances to the next question regardless of remaining unmet
// criteria, so a conversation can never loop on one question.
const MaxAttemptsPerQuestion = 3

// Engine drives one conversation through the question catalog: it classifies
// each submission, decides whether to advance, retry, or terminate, asks the
// generator for a follow-up when a retry is needed, and persists every step.
//
// Submissions for the same conversation are serialized through a
// per-conversation mutex; the persisted history is the source of truth for
// the expected question index and attempt number, never the caller's input.
type Engine struct {
	st         store.Store
	catalog    *catalog.Catalog
	classifier Classifier
	generator  Generator
	locks      sync.Map // conversation id -> *sync.Mutex
	now        func() time.Time
}

// NewEngine creates an interview engine with its dependencies.
func NewEngine(st store.Store, cat *catalog.Catalog, classifier Classifier, generator Generator) *Engine {
	return &Engine{
		st:         st,
		catalog:    cat,
		classifier: classifier,
		generator:  generator,
		now:        time.Now,
	}
}

// lockConversation serializes work on one conversation id and returns the
// unlock function. Different conversations proceed in parallel.
func (e *Engine) lockConversation(conversationID string) func() {
	v, _ := e.locks.LoadOrStore(conversationID, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// BeginConversation creates a new pending conversation and returns the first
// catalog question at attempt 0.
func (e *Engine) BeginConversation(ctx context.Context, req models.StartInterviewRequest) (*models.StepResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if !catalog.IsSupportedLanguage(req.Language) {
		slog.Warn("Engine.BeginConversation unsupported language", "language", req.Language)
		return nil, fmt.Errorf("language %q: %w", req.Language, models.ErrUnsupportedLanguage)
	}

	conv := models.Conversation{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Contact:   req.Contact,
		Language:  req.Language,
		Status:    models.ConversationStatusPending,
		StartTime: e.now().UTC(),
	}
	if err := e.st.UpsertConversation(conv); err != nil {
		return nil, fmt.Errorf("failed to persist new conversation: %w", err)
	}

	question, err := e.catalog.QuestionText(0, conv.Language)
	if err != nil {
		return nil, err
	}

	slog.Info("Engine.BeginConversation created conversation", "conversationID", conv.ID, "language", conv.Language)
	return &models.StepResult{
		ConversationID: conv.ID,
		QuestionIndex:  0,
		Attempt:        0,
		Question:       question,
	}, nil
}

// SubmitResponse processes one respondent submission: classifies it against
// the in-scope criteria, records the attempt with its per-criterion verdicts,
// and either returns a follow-up question, the next catalog question, or the
// terminal closing message.
//
// Nothing is persisted when a classifier or generator call fails, so the
// conversation stays in its prior state and the same request can be
// resubmitted safely.
func (e *Engine) SubmitResponse(ctx context.Context, req models.AnswerRequest) (*models.StepResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unlock := e.lockConversation(req.ConversationID)
	defer unlock()

	conv, err := e.st.GetConversation(req.ConversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		slog.Warn("Engine.SubmitResponse unknown conversation", "conversationID", req.ConversationID)
		return nil, fmt.Errorf("conversation %s: %w", req.ConversationID, models.ErrConversationNotFound)
	}
	if conv.Status == models.ConversationStatusCompleted {
		slog.Warn("Engine.SubmitResponse conversation already completed", "conversationID", conv.ID)
		return nil, fmt.Errorf("conversation %s: %w", conv.ID, models.ErrConversationDone)
	}

	if err := e.checkExpectedStep(conv, req.QuestionIndex, req.Attempt); err != nil {
		return nil, err
	}

	questionIndex := req.QuestionIndex
	attemptNumber := req.Attempt + 1 // stored attempt numbers are 1-based

	questionText, err := e.catalog.QuestionText(questionIndex, conv.Language)
	if err != nil {
		return nil, err
	}

	qr := findQuestionResponse(conv, questionIndex+1)
	inScope, presented, err := e.attemptScope(qr, questionIndex, attemptNumber, questionText)
	if err != nil {
		return nil, err
	}

	verdicts, err := e.classifier.Classify(ctx, req.Response, inScope, conv.Language)
	if err != nil {
		slog.Error("Engine.SubmitResponse classification failed", "error", err, "conversationID", conv.ID, "questionIndex", questionIndex, "attemptNumber", attemptNumber)
		return nil, err
	}

	// Fail-safe normalization: a criterion missing from the verdict map is
	// recorded unmet so the respondent gets another chance at it.
	entries := make([]models.ClassificationEntry, 0, len(inScope))
	var newUnmet []string
	for _, criterion := range inScope {
		met := verdicts[criterion]
		entries = append(entries, models.ClassificationEntry{Criterion: criterion, Met: met})
		if !met {
			newUnmet = append(newUnmet, criterion)
		}
	}

	kind := models.AttemptKindFollowup
	if attemptNumber == 1 {
		kind = models.AttemptKindInitial
	}
	attempt := models.Attempt{
		AttemptNumber:  attemptNumber,
		Kind:           kind,
		QuestionText:   presented,
		ResponseText:   req.Response,
		Classification: entries,
		UnmetCriteria:  newUnmet,
	}

	if len(newUnmet) > 0 && attemptNumber < MaxAttemptsPerQuestion {
		followup, err := e.generator.Generate(ctx, req.Response, newUnmet, conv.Language)
		if err != nil {
			slog.Error("Engine.SubmitResponse follow-up generation failed", "error", err, "conversationID", conv.ID, "questionIndex", questionIndex, "attemptNumber", attemptNumber)
			return nil, err
		}
		attempt.FollowupQuestion = followup
	}

	if err := e.persistAttempt(conv.ID, questionIndex+1, questionText, newUnmet, attempt); err != nil {
		return nil, err
	}

	slog.Info("Engine.SubmitResponse attempt recorded",
		"conversationID", conv.ID, "questionIndex", questionIndex, "attemptNumber", attemptNumber,
		"kind", kind, "unmetRemaining", len(newUnmet))

	if len(newUnmet) == 0 || attemptNumber >= MaxAttemptsPerQuestion {
		return e.advance(conv, questionIndex)
	}

	return &models.StepResult{
		ConversationID: conv.ID,
		QuestionIndex:  questionIndex,
		Attempt:        req.Attempt + 1,
		Question:       attempt.FollowupQuestion,
	}, nil
}

// checkExpectedStep reconstructs the expected next (question index, attempt)
// from the stored history and rejects a submission that matches neither the
// expected step nor a replay of the most recently recorded attempt. Replays
// happen when a crash or network failure hits after the save but before the
// caller saw the acknowledgment; reprocessing them is safe because every
// write is an idempotent upsert.
func (e *Engine) checkExpectedStep(conv *models.Conversation, questionIndex, attempt int) error {
	expQ, expA := expectedStep(conv)
	if questionIndex == expQ && attempt == expA {
		return nil
	}
	if len(conv.Responses) > 0 {
		last := conv.Responses[len(conv.Responses)-1]
		if n := len(last.Attempts); n > 0 && questionIndex == last.QuestionNumber-1 && attempt == n-1 {
			slog.Debug("Engine.SubmitResponse replaying last recorded attempt",
				"conversationID", conv.ID, "questionIndex", questionIndex, "attempt", attempt)
			return nil
		}
	}
	slog.Warn("Engine.SubmitResponse state mismatch",
		"conversationID", conv.ID,
		"gotQuestionIndex", questionIndex, "gotAttempt", attempt,
		"expectedQuestionIndex", expQ, "expectedAttempt", expA)
	return fmt.Errorf("expected question %d attempt %d, got question %d attempt %d: %w",
		expQ, expA, questionIndex, attempt, models.ErrStateMismatch)
}

// expectedStep derives the next (0-based question index, 0-based attempt)
// from the stored hierarchy. A question is finished once its unmet set is
// empty or its retry budget is exhausted.
func expectedStep(conv *models.Conversation) (int, int) {
	if len(conv.Responses) == 0 {
		return 0, 0
	}
	last := conv.Responses[len(conv.Responses)-1]
	n := len(last.Attempts)
	if len(last.UnmetCriteria) == 0 || n >= MaxAttemptsPerQuestion {
		return last.QuestionNumber, 0 // advanced past this question
	}
	return last.QuestionNumber - 1, n
}

// attemptScope determines the criteria in scope for this attempt and the
// question text that was presented to elicit it. Attempt 1 covers the full
// catalog criteria; later attempts cover the unmet set carried from the
// previous attempt and were elicited by its stored follow-up.
func (e *Engine) attemptScope(qr *models.QuestionResponse, questionIndex, attemptNumber int, questionText string) ([]string, string, error) {
	if attemptNumber == 1 {
		criteria, err := e.catalog.Criteria(questionIndex)
		if err != nil {
			return nil, "", err
		}
		return criteria, questionText, nil
	}
	if qr == nil || len(qr.Attempts) < attemptNumber-1 {
		return nil, "", fmt.Errorf("attempt %d has no recorded predecessor: %w", attemptNumber, models.ErrStateMismatch)
	}
	prev := qr.Attempts[attemptNumber-2]
	return prev.UnmetCriteria, prev.FollowupQuestion, nil
}

// persistAttempt writes the question response snapshot, the attempt, and its
// classification entries. Each write is an upsert on the natural key, so a
// partial save resolved by retry never duplicates rows.
func (e *Engine) persistAttempt(conversationID string, questionNumber int, questionText string, finalUnmet []string, attempt models.Attempt) error {
	qr := models.QuestionResponse{
		QuestionNumber: questionNumber,
		QuestionText:   questionText,
		UnmetCriteria:  finalUnmet,
	}
	if err := e.st.UpsertQuestionResponse(conversationID, qr); err != nil {
		return fmt.Errorf("failed to persist question response: %w", err)
	}
	if err := e.st.UpsertAttempt(conversationID, questionNumber, attempt); err != nil {
		return fmt.Errorf("failed to persist attempt: %w", err)
	}
	for _, entry := range attempt.Classification {
		if err := e.st.UpsertClassificationEntry(conversationID, questionNumber, attempt.AttemptNumber, entry); err != nil {
			return fmt.Errorf("failed to persist classification entry: %w", err)
		}
	}
	return nil
}

// advance moves to the next catalog question, or completes the conversation
// when the finished question was the last one.
func (e *Engine) advance(conv *models.Conversation, questionIndex int) (*models.StepResult, error) {
	next := questionIndex + 1
	if next < e.catalog.Len() {
		question, err := e.catalog.QuestionText(next, conv.Language)
		if err != nil {
			return nil, err
		}
		return &models.StepResult{
			ConversationID: conv.ID,
			QuestionIndex:  next,
			Attempt:        0,
			Question:       question,
		}, nil
	}

	endTime := e.now().UTC()
	conv.Status = models.ConversationStatusCompleted
	conv.EndTime = &endTime
	if err := e.st.UpsertConversation(*conv); err != nil {
		return nil, fmt.Errorf("failed to persist completed conversation: %w", err)
	}

	slog.Info("Engine conversation completed", "conversationID", conv.ID)
	return &models.StepResult{
		ConversationID: conv.ID,
		Completed:      true,
		ClosingMessage: catalog.ClosingMessage(conv.Language),
	}, nil
}

// EndSession marks the end of a session. A temporary end (browser close)
// only records the end time; a permanent end also flips the conversation to
// interrupted. Completed conversations are left untouched, so calling this
// twice is safe.
func (e *Engine) EndSession(ctx context.Context, conversationID string, temporary bool) error {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	conv, err := e.st.GetConversation(conversationID)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	if conv.Status == models.ConversationStatusCompleted {
		slog.Debug("Engine.EndSession no-op on completed conversation", "conversationID", conversationID)
		return nil
	}

	endTime := e.now().UTC()
	conv.EndTime = &endTime
	if !temporary {
		conv.Status = models.ConversationStatusInterrupted
	}
	if err := e.st.UpsertConversation(*conv); err != nil {
		return fmt.Errorf("failed to persist session end: %w", err)
	}

	slog.Info("Engine.EndSession recorded", "conversationID", conversationID, "temporary", temporary, "status", conv.Status)
	return nil
}

// ResumeSession restores a non-completed conversation to pending, clearing
// its end time, and returns the full stored state. It returns (nil, nil)
// when the conversation is completed or unknown: a caller may race a resume
// against completion, so "not resumable" is a recoverable condition rather
// than an error.
func (e *Engine) ResumeSession(ctx context.Context, conversationID string) (*models.Conversation, error) {
	unlock := e.lockConversation(conversationID)
	defer unlock()

	conv, err := e.st.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil || conv.Status == models.ConversationStatusCompleted {
		slog.Debug("Engine.ResumeSession not resumable", "conversationID", conversationID, "found", conv != nil)
		return nil, nil
	}

	conv.EndTime = nil
	conv.Status = models.ConversationStatusPending
	if err := e.st.UpsertConversation(*conv); err != nil {
		return nil, fmt.Errorf("failed to persist resumed conversation: %w", err)
	}

	slog.Info("Engine.ResumeSession restored conversation", "conversationID", conversationID)
	return conv, nil
}

// GetConversation loads the full stored hierarchy for inspection or export.
func (e *Engine) GetConversation(ctx context.Context, conversationID string) (*models.Conversation, error) {
	conv, err := e.st.GetConversation(conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	if conv == nil {
		return nil, fmt.Errorf("conversation %s: %w", conversationID, models.ErrConversationNotFound)
	}
	return conv, nil
}

func findQuestionResponse(conv *models.Conversation, questionNumber int) *models.QuestionResponse {
	for i := range conv.Responses {
		if conv.Responses[i].QuestionNumber == questionNumber {
			return &conv.Responses[i]
		}
	}
	return nil
}
