package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ReflectLoop/ReflectLoop/internal/catalog"
	"github.com/ReflectLoop/ReflectLoop/internal/flow"
	"github.com/ReflectLoop/ReflectLoop/internal/models"
	"github.com/ReflectLoop/ReflectLoop/internal/store"
	"github.com/gorilla/mux"
)

type stubClassifier struct {
	met bool
	err error
}

func (s *stubClassifier) Classify(ctx context.Context, responseText string, criteria []string, lang string) (map[string]bool, error) {
	if s.err != nil {
		return nil, s.err
	}
	verdicts := make(map[string]bool, len(criteria))
	for _, c := range criteria {
		verdicts[c] = s.met
	}
	return verdicts, nil
}

type stubGenerator struct{}

func (stubGenerator) Generate(ctx context.Context, responseText string, unmetCriteria []string, lang string) (string, error) {
	return "Could you say more about that?", nil
}

func newTestRouter(t *testing.T, cls flow.Classifier) *mux.Router {
	t.Helper()
	cat, err := catalog.New([]catalog.Question{
		{Criteria: []string{"identifies the problem"}, Text: map[string]string{"en": "What happened?"}},
		{Criteria: []string{"names a cause"}, Text: map[string]string{"en": "Why did it happen?"}},
	})
	if err != nil {
		t.Fatalf("catalog.New failed: %v", err)
	}
	st := store.NewInMemoryStore()
	engine := flow.NewEngine(st, cat, cls, stubGenerator{})
	return NewServer(engine, st).Router()
}

func doJSON(t *testing.T, router *mux.Router, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) (string, string, json.RawMessage) {
	t.Helper()
	var envelope struct {
		Status  string          `json:"status"`
		Message string          `json:"message"`
		Result  json.RawMessage `json:"result"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &envelope); err != nil {
		t.Fatalf("failed to decode response envelope: %v (body: %s)", err, rec.Body.String())
	}
	return envelope.Status, envelope.Message, envelope.Result
}

func decodeStep(t *testing.T, rec *httptest.ResponseRecorder) models.StepResult {
	t.Helper()
	_, _, raw := decodeEnvelope(t, rec)
	var step models.StepResult
	if err := json.Unmarshal(raw, &step); err != nil {
		t.Fatalf("failed to decode step result: %v", err)
	}
	return step
}

func startInterview(t *testing.T, router *mux.Router) models.StepResult {
	t.Helper()
	rec := doJSON(t, router, http.MethodPost, "/interviews", models.StartInterviewRequest{
		Name: "Mari", Contact: "mari@example.com", Language: "en",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	return decodeStep(t, rec)
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t, &stubClassifier{met: true})
	rec := doJSON(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if status, _, _ := decodeEnvelope(t, rec); status != "ok" {
		t.Errorf("expected ok status, got %q", status)
	}
}

func TestStartInterview(t *testing.T) {
	router := newTestRouter(t, &stubClassifier{met: true})

	step := startInterview(t, router)
	if step.ConversationID == "" {
		t.Error("expected a conversation id")
	}
	if step.QuestionIndex != 0 || step.Attempt != 0 {
		t.Errorf("expected step 0/0, got %d/%d", step.QuestionIndex, step.Attempt)
	}
	if step.Question != "What happened?" {
		t.Errorf("unexpected question: %q", step.Question)
	}
}

func TestStartInterviewRejectsBadInput(t *testing.T) {
	router := newTestRouter(t, &stubClassifier{met: true})

	req := httptest.NewRequest(http.MethodPost, "/interviews", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("malformed JSON: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/interviews", models.StartInterviewRequest{
		Name: "Mari", Contact: "mari@example.com", Language: "fr",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("unsupported language: expected 400, got %d", rec.Code)
	}
	if status, _, _ := decodeEnvelope(t, rec); status != "error" {
		t.Errorf("expected error envelope, got %q", status)
	}
}

func TestAnswerFlowThroughCompletion(t *testing.T) {
	router := newTestRouter(t, &stubClassifier{met: true})
	started := startInterview(t, router)
	id := started.ConversationID

	rec := doJSON(t, router, http.MethodPost, "/interviews/answer", models.AnswerRequest{
		ConversationID: id, QuestionIndex: 0, Attempt: 0, Response: "The deploy broke.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("first answer: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	step := decodeStep(t, rec)
	if step.QuestionIndex != 1 || step.Question != "Why did it happen?" {
		t.Errorf("expected advance to question 1, got %+v", step)
	}

	rec = doJSON(t, router, http.MethodPost, "/interviews/answer", models.AnswerRequest{
		ConversationID: id, QuestionIndex: 1, Attempt: 0, Response: "A stale config.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("second answer: expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	step = decodeStep(t, rec)
	if !step.Completed || step.ClosingMessage == "" {
		t.Errorf("expected completion with closing message, got %+v", step)
	}

	// Further submissions conflict with the completed conversation.
	rec = doJSON(t, router, http.MethodPost, "/interviews/answer", models.AnswerRequest{
		ConversationID: id, QuestionIndex: 1, Attempt: 0, Response: "again",
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("answer after completion: expected 409, got %d", rec.Code)
	}

	// The stored hierarchy is readable.
	rec = doJSON(t, router, http.MethodGet, "/interviews/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get conversation: expected 200, got %d", rec.Code)
	}
	_, _, raw := decodeEnvelope(t, rec)
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		t.Fatalf("failed to decode conversation: %v", err)
	}
	if conv.Status != models.ConversationStatusCompleted || len(conv.Responses) != 2 {
		t.Errorf("unexpected stored conversation: status=%s responses=%d", conv.Status, len(conv.Responses))
	}

	// Transcript download.
	rec = doJSON(t, router, http.MethodGet, "/interviews/"+id+"/transcript", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("transcript: expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type: %q", ct)
	}
	if cd := rec.Header().Get("Content-Disposition"); cd != fmt.Sprintf("attachment; filename=chat_conversation_%s.txt", id) {
		t.Errorf("unexpected content disposition: %q", cd)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Chat Conversation for Mari (mari@example.com)") {
		t.Errorf("transcript missing header: %s", body)
	}
	if !strings.Contains(body, "Question 1: What happened?") || !strings.Contains(body, "Mari: A stale config.") {
		t.Errorf("transcript missing content: %s", body)
	}
}

func TestAnswerErrorStatuses(t *testing.T) {
	router := newTestRouter(t, &stubClassifier{met: true})
	started := startInterview(t, router)

	rec := doJSON(t, router, http.MethodPost, "/interviews/answer", models.AnswerRequest{
		ConversationID: "missing", QuestionIndex: 0, Attempt: 0, Response: "answer",
	})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown conversation: expected 404, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/interviews/answer", models.AnswerRequest{
		ConversationID: started.ConversationID, QuestionIndex: 1, Attempt: 0, Response: "skipping ahead",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("state mismatch: expected 400, got %d", rec.Code)
	}

	rec = doJSON(t, router, http.MethodPost, "/interviews/answer", models.AnswerRequest{
		ConversationID: started.ConversationID, QuestionIndex: 0, Attempt: 0, Response: "",
	})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("empty response: expected 400, got %d", rec.Code)
	}
}

func TestAnswerClassifierFailureIsBadGateway(t *testing.T) {
	router := newTestRouter(t, &stubClassifier{err: fmt.Errorf("%w: upstream timeout", models.ErrClassification)})
	started := startInterview(t, router)

	rec := doJSON(t, router, http.MethodPost, "/interviews/answer", models.AnswerRequest{
		ConversationID: started.ConversationID, QuestionIndex: 0, Attempt: 0, Response: "answer",
	})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("classifier failure: expected 502, got %d", rec.Code)
	}
}

func TestEndAndResumeSession(t *testing.T) {
	router := newTestRouter(t, &stubClassifier{met: true})
	started := startInterview(t, router)
	id := started.ConversationID

	rec := doJSON(t, router, http.MethodPost, "/interviews/"+id+"/end", models.EndSessionRequest{Temporary: true})
	if rec.Code != http.StatusOK {
		t.Fatalf("end session: expected 200, got %d", rec.Code)
	}
	if status, message, _ := decodeEnvelope(t, rec); status != "ok" || message != "Session ended" {
		t.Errorf("unexpected end envelope: %s/%s", status, message)
	}

	rec = doJSON(t, router, http.MethodPost, "/interviews/"+id+"/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume: expected 200, got %d", rec.Code)
	}
	_, _, raw := decodeEnvelope(t, rec)
	var conv models.Conversation
	if err := json.Unmarshal(raw, &conv); err != nil {
		t.Fatalf("failed to decode resumed conversation: %v", err)
	}
	if conv.ID != id || conv.Status != models.ConversationStatusPending {
		t.Errorf("unexpected resumed conversation: %+v", conv)
	}

	// Ending an unknown conversation is a 404; resuming one is a soft error.
	rec = doJSON(t, router, http.MethodPost, "/interviews/missing/end", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("end unknown: expected 404, got %d", rec.Code)
	}
	rec = doJSON(t, router, http.MethodPost, "/interviews/missing/resume", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("resume unknown: expected 200, got %d", rec.Code)
	}
	if status, message, _ := decodeEnvelope(t, rec); status != "error" || message != "Conversation is not resumable" {
		t.Errorf("unexpected resume envelope: %s/%s", status, message)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{models.ErrConversationNotFound, http.StatusNotFound},
		{models.ErrConversationDone, http.StatusConflict},
		{models.ErrClassification, http.StatusBadGateway},
		{models.ErrGeneration, http.StatusBadGateway},
		{models.ErrEmptyName, http.StatusBadRequest},
		{models.ErrStateMismatch, http.StatusBadRequest},
		{fmt.Errorf("wrapped: %w", models.ErrUnsupportedLanguage), http.StatusBadRequest},
		{fmt.Errorf("something else"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusForError(tc.err); got != tc.want {
			t.Errorf("statusForError(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}
