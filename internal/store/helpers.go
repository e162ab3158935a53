package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/ReflectLoop/ReflectLoop/internal/models"
)

// marshalCriteria encodes a criteria list as a JSON array for storage.
// The slice order is preserved so stored history replays byte-identically.
func marshalCriteria(criteria []string) (string, error) {
	if criteria == nil {
		criteria = []string{}
	}
	data, err := json.Marshal(criteria)
	if err != nil {
		return "", fmt.Errorf("marshal criteria failed: %w", err)
	}
	return string(data), nil
}

// unmarshalCriteria decodes a stored JSON criteria array. An empty column
// value decodes to an empty list.
func unmarshalCriteria(raw string) ([]string, error) {
	if raw == "" {
		return []string{}, nil
	}
	var criteria []string
	if err := json.Unmarshal([]byte(raw), &criteria); err != nil {
		return nil, fmt.Errorf("unmarshal criteria failed: %w", err)
	}
	return criteria, nil
}

// nilIfZeroTime returns nil for a nil time pointer so the column stores NULL.
func nilIfZeroTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return *t
}

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func copyStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}

func copyConversation(c *models.Conversation) *models.Conversation {
	out := &models.Conversation{
		ID:        c.ID,
		Name:      c.Name,
		Contact:   c.Contact,
		Language:  c.Language,
		Status:    c.Status,
		StartTime: c.StartTime,
		EndTime:   copyTime(c.EndTime),
	}
	for _, qr := range c.Responses {
		copied := models.QuestionResponse{
			QuestionNumber: qr.QuestionNumber,
			QuestionText:   qr.QuestionText,
			UnmetCriteria:  copyStrings(qr.UnmetCriteria),
		}
		for _, a := range qr.Attempts {
			attempt := models.Attempt{
				AttemptNumber:    a.AttemptNumber,
				Kind:             a.Kind,
				QuestionText:     a.QuestionText,
				ResponseText:     a.ResponseText,
				UnmetCriteria:    copyStrings(a.UnmetCriteria),
				FollowupQuestion: a.FollowupQuestion,
			}
			attempt.Classification = append([]models.ClassificationEntry(nil), a.Classification...)
			copied.Attempts = append(copied.Attempts, attempt)
		}
		out.Responses = append(out.Responses, copied)
	}
	return out
}

func sortQuestionResponses(qrs []models.QuestionResponse) {
	sort.Slice(qrs, func(i, j int) bool { return qrs[i].QuestionNumber < qrs[j].QuestionNumber })
}

func sortAttempts(attempts []models.Attempt) {
	sort.Slice(attempts, func(i, j int) bool { return attempts[i].AttemptNumber < attempts[j].AttemptNumber })
}
