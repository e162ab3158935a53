package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ReflectLoop/ReflectLoop/internal/models"
	"github.com/openai/openai-go"
)

// fakeGenAIClient returns canned completions and records the prompts it saw.
type fakeGenAIClient struct {
	classifyResponse string
	classifyErr      error
	generateResponse string
	generateErr      error
	lastUserPrompt   string
}

func (f *fakeGenAIClient) capture(messages []openai.ChatCompletionMessageParamUnion) {
	for _, m := range messages {
		if m.OfUser != nil {
			f.lastUserPrompt = m.OfUser.Content.OfString.Value
		}
	}
}

func (f *fakeGenAIClient) GenerateWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.capture(messages)
	return f.generateResponse, f.generateErr
}

func (f *fakeGenAIClient) ClassifyWithMessages(ctx context.Context, messages []openai.ChatCompletionMessageParamUnion) (string, error) {
	f.capture(messages)
	return f.classifyResponse, f.classifyErr
}

func TestClassifyParsesVerdicts(t *testing.T) {
	client := &fakeGenAIClient{
		classifyResponse: `{"names the problem": "True", "gives an example": "False"}`,
	}
	c := NewGenAIClassifier(client)

	verdicts, err := c.Classify(context.Background(), "response text", []string{"names the problem", "gives an example"}, "en")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !verdicts["names the problem"] {
		t.Error("expected 'names the problem' to be met")
	}
	if verdicts["gives an example"] {
		t.Error("expected 'gives an example' to be unmet")
	}
	if !strings.Contains(client.lastUserPrompt, "response text") {
		t.Error("user prompt must include the response text")
	}
	if !strings.Contains(client.lastUserPrompt, "names the problem, gives an example") {
		t.Error("user prompt must list the criteria")
	}
}

func TestClassifyToleratesCodeFences(t *testing.T) {
	client := &fakeGenAIClient{
		classifyResponse: "```json\n{\"names the problem\": true}\n```",
	}
	c := NewGenAIClassifier(client)

	verdicts, err := c.Classify(context.Background(), "response", []string{"names the problem"}, "en")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !verdicts["names the problem"] {
		t.Error("fenced boolean verdict must be parsed as met")
	}
}

func TestClassifyNonBooleanVerdictsAreUnmet(t *testing.T) {
	client := &fakeGenAIClient{
		classifyResponse: `{"a": "yes", "b": 1, "c": null, "d": " TRUE "}`,
	}
	c := NewGenAIClassifier(client)

	verdicts, err := c.Classify(context.Background(), "response", []string{"a", "b", "c", "d"}, "en")
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	for _, criterion := range []string{"a", "b", "c"} {
		if verdicts[criterion] {
			t.Errorf("verdict %q must normalize to unmet", criterion)
		}
	}
	if !verdicts["d"] {
		t.Error("case-insensitive padded 'true' must count as met")
	}
}

func TestClassifyFailures(t *testing.T) {
	cases := []struct {
		name   string
		client *fakeGenAIClient
	}{
		{"transport error", &fakeGenAIClient{classifyErr: errors.New("connection refused")}},
		{"no JSON object", &fakeGenAIClient{classifyResponse: "I cannot classify that."}},
		{"malformed JSON", &fakeGenAIClient{classifyResponse: `{"a": "True",}`}},
	}
	for _, tc := range cases {
		c := NewGenAIClassifier(tc.client)
		if _, err := c.Classify(context.Background(), "response", []string{"a"}, "en"); !errors.Is(err, models.ErrClassification) {
			t.Errorf("%s: expected classification error, got %v", tc.name, err)
		}
	}
}

func TestGenerateReturnsTrimmedFollowup(t *testing.T) {
	client := &fakeGenAIClient{generateResponse: "  What specifically went wrong?  \n"}
	g := NewGenAIGenerator(client)

	followup, err := g.Generate(context.Background(), "it went badly", []string{"names the specific problem"}, "en")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if followup != "What specifically went wrong?" {
		t.Errorf("expected trimmed follow-up, got %q", followup)
	}
	if !strings.Contains(client.lastUserPrompt, "names the specific problem") {
		t.Error("user prompt must include the unmet criteria")
	}
	if !strings.Contains(client.lastUserPrompt, "it went badly") {
		t.Error("user prompt must include the response text")
	}
}

func TestGenerateFailures(t *testing.T) {
	cases := []struct {
		name   string
		client *fakeGenAIClient
	}{
		{"transport error", &fakeGenAIClient{generateErr: errors.New("connection refused")}},
		{"empty output", &fakeGenAIClient{generateResponse: "   "}},
	}
	for _, tc := range cases {
		g := NewGenAIGenerator(tc.client)
		if _, err := g.Generate(context.Background(), "response", []string{"a"}, "en"); !errors.Is(err, models.ErrGeneration) {
			t.Errorf("%s: expected generation error, got %v", tc.name, err)
		}
	}
}
