// Package flow implements the interview orchestration engine and its two
// LLM-backed ports: response classification and follow-up generation.
package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ReflectLoop/ReflectLoop/internal/genai"
	"github.com/ReflectLoop/ReflectLoop/internal/models"
	"github.com/openai/openai-go"
)

// Classifier judges whether a response satisfies each of the given criteria.
//
// The returned map may omit criteria the backend failed to produce a
// boolean-like verdict for; the engine treats missing criteria as unmet.
// A transport or parse failure is reported as an error wrapping
// models.ErrClassification.
type Classifier interface {
	Classify(ctx context.Context, responseText string, criteria []string, lang string) (map[string]bool, error)
}

// GenAIClassifier implements Classifier on top of the GenAI client. Verdicts
// are requested as a JSON object keyed by the criterion texts.
type GenAIClassifier struct {
	client genai.ClientInterface
}

// NewGenAIClassifier creates a classifier backed by the given GenAI client.
func NewGenAIClassifier(client genai.ClientInterface) *GenAIClassifier {
	return &GenAIClassifier{client: client}
}

const classifierSystemPrompt = `You classify a student's reflective response against a fixed set of criteria.
For each criterion, answer True if the response clearly includes elements of reflection related to that criterion, False if it does not.
Respond with a single JSON object whose keys are exactly the criterion texts given, and whose values are the strings "True" or "False".
Do not include any other text, explanation, or formatting outside the JSON object.`

// Classify calls the LLM and parses its verdict object. Individual verdicts
// that are not boolean-like come back as unmet; output that is not a JSON
// object at all is a classification failure.
func (c *GenAIClassifier) Classify(ctx context.Context, responseText string, criteria []string, lang string) (map[string]bool, error) {
	userPrompt := fmt.Sprintf(`Classify the following response, probably given in %s, but that can also be in another language, based on if the response clearly includes elements of reflection related to:

%s

Response: %s`, lang, strings.Join(criteria, ", "), responseText)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(classifierSystemPrompt),
		openai.UserMessage(userPrompt),
	}

	raw, err := c.client.ClassifyWithMessages(ctx, messages)
	if err != nil {
		slog.Error("GenAIClassifier call failed", "error", err, "criteriaCount", len(criteria))
		return nil, fmt.Errorf("%w: %v", models.ErrClassification, err)
	}

	verdicts, err := parseVerdicts(raw)
	if err != nil {
		slog.Error("GenAIClassifier output not parseable", "error", err)
		return nil, fmt.Errorf("%w: %v", models.ErrClassification, err)
	}

	slog.Debug("GenAIClassifier verdicts parsed", "requested", len(criteria), "returned", len(verdicts))
	return verdicts, nil
}

// parseVerdicts extracts the JSON verdict object from raw model output.
// Markdown code fences around the object are tolerated. Only values whose
// trimmed, lower-cased form is "true" (or the JSON boolean true) count as
// met; every other value is recorded as unmet.
func parseVerdicts(raw string) (map[string]bool, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end < start {
		return nil, fmt.Errorf("no JSON object in classifier output")
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, fmt.Errorf("invalid JSON in classifier output: %w", err)
	}

	verdicts := make(map[string]bool, len(parsed))
	for criterion, value := range parsed {
		verdicts[criterion] = isTruthy(value)
	}
	return verdicts, nil
}

func isTruthy(value interface{}) bool {
	switch v := value.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(strings.TrimSpace(v), "true")
	default:
		return false
	}
}
