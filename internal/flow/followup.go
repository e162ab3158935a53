package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ReflectLoop/ReflectLoop/internal/genai"
	"github.com/ReflectLoop/ReflectLoop/internal/models"
	"github.com/openai/openai-go"
)

// Generator produces a single follow-up question targeting the criteria a
// response left unmet, written in the conversation's language. A failure is
// reported as an error wrapping models.ErrGeneration.
type Generator interface {
	Generate(ctx context.Context, responseText string, unmetCriteria []string, lang string) (string, error)
}

// GenAIGenerator implements Generator on top of the GenAI client.
type GenAIGenerator struct {
	client genai.ClientInterface
}

// NewGenAIGenerator creates a follow-up generator backed by the given GenAI client.
func NewGenAIGenerator(client genai.ClientInterface) *GenAIGenerator {
	return &GenAIGenerator{client: client}
}

// Generate asks the LLM for one concise follow-up question covering all
// still-unmet criteria.
func (g *GenAIGenerator) Generate(ctx context.Context, responseText string, unmetCriteria []string, lang string) (string, error) {
	userPrompt := fmt.Sprintf(`Based on the given response, probably given in %[1]s but that can also be in another language, and the aspects that still need clarification according to these criteria: %[2]s

Response: %[3]s

Please start by understanding the criteria and the student's answer. Then, formulate a kind follow-up question and make sure that it is explicitly written in %[1]s. Use the appropriate formal pronouns and verb forms in %[1]s. The question should be concise and short when possible, yet focused on addressing all the specific unmet aspects that require further explanation, as well as directly related to the content of the student's response whenever possible. When crafting the question, try to rephrase the criteria contextually instead of using their text as it is, as well as try using language that is accessible to non-expert students. No need to thank for the answer or to include other unnecessary politeness or information.`,
		lang, strings.Join(unmetCriteria, ", "), responseText)

	messages := []openai.ChatCompletionMessageParamUnion{
		openai.UserMessage(userPrompt),
	}

	followup, err := g.client.GenerateWithMessages(ctx, messages)
	if err != nil {
		slog.Error("GenAIGenerator call failed", "error", err, "unmetCount", len(unmetCriteria))
		return "", fmt.Errorf("%w: %v", models.ErrGeneration, err)
	}

	followup = strings.TrimSpace(followup)
	if followup == "" {
		slog.Error("GenAIGenerator returned empty follow-up")
		return "", fmt.Errorf("%w: empty follow-up question", models.ErrGeneration)
	}
	return followup, nil
}
