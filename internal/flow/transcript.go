package flow

import (
	"context"
	"fmt"
	"strings"

	"github.com/ReflectLoop/ReflectLoop/internal/catalog"
	"github.com/ReflectLoop/ReflectLoop/internal/models"
)

// BuildTranscript renders a loaded conversation as a human-readable
// transcript: one section per question, the respondent's attempts in
// submission order, and between successive attempts the follow-up question
// that was actually presented, read from the previous attempt's stored
// follow-up field. Pure function over stored data; no LLM calls.
func BuildTranscript(conv *models.Conversation) string {
	labels := catalog.Labels(conv.Language)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s (%s)\n\n", labels.Header, conv.Name, conv.Contact)

	for _, qr := range conv.Responses {
		fmt.Fprintf(&b, "%s %d: %s\n\n", labels.Question, qr.QuestionNumber, qr.QuestionText)
		for j, attempt := range qr.Attempts {
			if j > 0 {
				followup := qr.Attempts[j-1].FollowupQuestion
				if followup == "" {
					followup = "N/A"
				}
				fmt.Fprintf(&b, "%s %d %s %d: %s\n\n", labels.Followup, j, labels.ForQuestion, qr.QuestionNumber, followup)
			}
			fmt.Fprintf(&b, "%s: %s\n\n", conv.Name, attempt.ResponseText)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// Transcript loads a conversation and renders its transcript.
func (e *Engine) Transcript(ctx context.Context, conversationID string) (string, error) {
	conv, err := e.GetConversation(ctx, conversationID)
	if err != nil {
		return "", err
	}
	return BuildTranscript(conv), nil
}
