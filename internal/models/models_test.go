package models

import (
	"errors"
	"testing"
)

func TestIsValidConversationStatus(t *testing.T) {
	for _, s := range []ConversationStatus{ConversationStatusPending, ConversationStatusCompleted, ConversationStatusInterrupted} {
		if !IsValidConversationStatus(s) {
			t.Errorf("%s should be valid", s)
		}
	}
	if IsValidConversationStatus("archived") {
		t.Error("archived should not be valid")
	}
	if IsValidConversationStatus("") {
		t.Error("empty status should not be valid")
	}
}

func TestStartInterviewRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  StartInterviewRequest
		want error
	}{
		{"valid", StartInterviewRequest{Name: "Mari", Contact: "mari@example.com", Language: "en"}, nil},
		{"empty name", StartInterviewRequest{Contact: "mari@example.com", Language: "en"}, ErrEmptyName},
		{"whitespace name", StartInterviewRequest{Name: "   ", Contact: "mari@example.com", Language: "en"}, ErrEmptyName},
		{"empty contact", StartInterviewRequest{Name: "Mari", Language: "en"}, ErrEmptyContact},
		{"empty language", StartInterviewRequest{Name: "Mari", Contact: "mari@example.com"}, ErrEmptyLanguage},
	}
	for _, tc := range cases {
		if err := tc.req.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}

func TestAnswerRequestValidate(t *testing.T) {
	cases := []struct {
		name string
		req  AnswerRequest
		want error
	}{
		{"valid", AnswerRequest{ConversationID: "c1", QuestionIndex: 0, Attempt: 0, Response: "an answer"}, nil},
		{"empty conversation id", AnswerRequest{Response: "an answer"}, ErrEmptyConversationID},
		{"negative question index", AnswerRequest{ConversationID: "c1", QuestionIndex: -1, Response: "an answer"}, ErrNegativeIndex},
		{"negative attempt", AnswerRequest{ConversationID: "c1", Attempt: -1, Response: "an answer"}, ErrNegativeIndex},
		{"empty response", AnswerRequest{ConversationID: "c1"}, ErrEmptyResponseText},
		{"whitespace response", AnswerRequest{ConversationID: "c1", Response: " \n\t"}, ErrEmptyResponseText},
	}
	for _, tc := range cases {
		if err := tc.req.Validate(); !errors.Is(err, tc.want) {
			t.Errorf("%s: got %v, want %v", tc.name, err, tc.want)
		}
	}
}
