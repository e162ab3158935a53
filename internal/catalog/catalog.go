// Package catalog provides the ordered, immutable interview question catalog.
//
// Each question carries a set of natural-language evaluation criteria and a
// localized prompt string per supported language. The catalog is loaded once
// at process start and read-only thereafter; all accessors return copies so
// callers cannot mutate the shared data.
package catalog

import (
	"fmt"

	"github.com/ReflectLoop/ReflectLoop/internal/models"
)

// Question is one catalog entry: the evaluation criteria and the localized
// question text keyed by language code.
type Question struct {
	Criteria []string
	Text     map[string]string
}

// Catalog is an ordered, immutable sequence of questions.
type Catalog struct {
	questions []Question
}

// supportedLanguages is the fixed set of language codes the interview runs in.
var supportedLanguages = []string{"en", "de", "es", "et"}

// IsSupportedLanguage checks whether lang is one of the supported codes.
func IsSupportedLanguage(lang string) bool {
	for _, l := range supportedLanguages {
		if l == lang {
			return true
		}
	}
	return false
}

// SupportedLanguages returns the fixed set of supported language codes.
func SupportedLanguages() []string {
	out := make([]string, len(supportedLanguages))
	copy(out, supportedLanguages)
	return out
}

// New creates a catalog from the given questions. Each question must have at
// least one criterion and at least one localization.
func New(questions []Question) (*Catalog, error) {
	if len(questions) == 0 {
		return nil, fmt.Errorf("catalog requires at least one question")
	}
	for i, q := range questions {
		if len(q.Criteria) == 0 {
			return nil, fmt.Errorf("question %d has no criteria", i+1)
		}
		if len(q.Text) == 0 {
			return nil, fmt.Errorf("question %d has no localized text", i+1)
		}
	}
	copied := make([]Question, len(questions))
	for i, q := range questions {
		copied[i] = copyQuestion(q)
	}
	return &Catalog{questions: copied}, nil
}

// Len returns the number of questions in the catalog.
func (c *Catalog) Len() int {
	return len(c.questions)
}

// Criteria returns a copy of the criteria for the question at index (0-based).
func (c *Catalog) Criteria(index int) ([]string, error) {
	if index < 0 || index >= len(c.questions) {
		return nil, fmt.Errorf("question index %d out of range", index)
	}
	out := make([]string, len(c.questions[index].Criteria))
	copy(out, c.questions[index].Criteria)
	return out, nil
}

// QuestionText returns the localized text for the question at index
// (0-based), falling back to English when the language has no entry.
func (c *Catalog) QuestionText(index int, lang string) (string, error) {
	if index < 0 || index >= len(c.questions) {
		return "", fmt.Errorf("question index %d out of range", index)
	}
	text := c.questions[index].Text
	if t, ok := text[lang]; ok {
		return t, nil
	}
	if t, ok := text["en"]; ok {
		return t, nil
	}
	return "", fmt.Errorf("question %d has no text for language %q: %w", index+1, lang, models.ErrUnsupportedLanguage)
}

func copyQuestion(q Question) Question {
	criteria := make([]string, len(q.Criteria))
	copy(criteria, q.Criteria)
	text := make(map[string]string, len(q.Text))
	for k, v := range q.Text {
		text[k] = v
	}
	return Question{Criteria: criteria, Text: text}
}

// closingMessages holds the localized terminal message shown when the last
// catalog question is finished.
var closingMessages = map[string]string{
	"en": "Thank you for your answers. You can download the conversation.",
	"de": "Vielen Dank für Ihre Antworten. Sie können das Gespräch herunterladen.",
	"es": "Gracias por sus respuestas. Puede descargar la conversación.",
	"et": "Täname teid vastuste eest. Saate vestluse alla laadida.",
}

// ClosingMessage returns the localized closing message for lang, falling
// back to English.
func ClosingMessage(lang string) string {
	if m, ok := closingMessages[lang]; ok {
		return m
	}
	return closingMessages["en"]
}

// TranscriptLabels holds the localized strings used when rendering a
// conversation transcript.
type TranscriptLabels struct {
	Header      string // "Chat Conversation for"
	Question    string // "Question"
	Followup    string // "Follow-up question"
	ForQuestion string // "for Question"
}

var transcriptLabels = map[string]TranscriptLabels{
	"en": {
		Header:      "Chat Conversation for",
		Question:    "Question",
		Followup:    "Follow-up question",
		ForQuestion: "for Question",
	},
	"de": {
		Header:      "Chat-Konversation für",
		Question:    "Frage",
		Followup:    "Folgefrage",
		ForQuestion: "zu Frage",
	},
	"es": {
		Header:      "Conversación de chat para",
		Question:    "Pregunta",
		Followup:    "Pregunta de seguimiento",
		ForQuestion: "para la Pregunta",
	},
	"et": {
		Header:      "Vestluse sisu kasutajale",
		Question:    "Küsimus",
		Followup:    "Järelküsimus",
		ForQuestion: "Küsimusele",
	},
}

// Labels returns the transcript labels for lang, falling back to English.
func Labels(lang string) TranscriptLabels {
	if l, ok := transcriptLabels[lang]; ok {
		return l
	}
	return transcriptLabels["en"]
}

// Default returns the built-in reflective interview catalog: three questions
// walking the respondent from what happened, through why it happened, to
// what they learned.
func Default() *Catalog {
	cat, err := New([]Question{
		{
			Text: map[string]string{
				"en": "What happened and what did you do or try to do to resolve the issue?",
				"de": "Was ist passiert und was haben Sie getan oder versucht zu tun?",
				"es": "¿Qué sucedió y qué hizo o intentó hacer para resolver el problema?",
				"et": "Mis juhtus ja mida te tegite või proovisite teha, et lahendada probleemi?",
			},
			Criteria: []string{
				"a clear identification of the problem or situation that happened",
				"an understanding of the circumstances and environment in which the problem occurred",
				"description of the steps taken to address the problem once it was identified, along with the rationale for those actions",
			},
		},
		{
			Text: map[string]string{
				"en": "What were the reasons for these issues?",
				"de": "Was waren Gründe dafür dass es nicht funktioniert hat?",
				"es": "¿Cuáles fueron los motivos de estos problemas?",
				"et": "Mis olid nende probleemide põhjused?",
			},
			Criteria: []string{
				"review of the specific steps or actions taken that did not produce the desired result",
				"reflection on possible missteps, errors or misjudgments made during the process that might have contributed to the encountered difficulties",
				"reflection of external factors or conditions such as organizational, time, ethical, regulations, technological, environmental, or team-related challenges that might have contributed to the encountered difficulties",
			},
		},
		{
			Text: map[string]string{
				"en": "What have you learned from this for the future?",
				"de": "Was haben Sie daraus für die Zukunft gelernt?",
				"es": "¿Qué ha aprendido de esto para el futuro?",
				"et": "Mida olete sellest tulevikuks õppinud?",
			},
			Criteria: []string{
				"key lessons learned from the experience",
				"application of lessons learned to improve future situations or projects",
				"specific improvements to processes or approaches that have been or will be implemented as a result of the experience",
				"preventative measures to avoid similar failures in the future",
				"personal or professional growth as a result of this experience",
			},
		},
	})
	if err != nil {
		// The built-in catalog is static data; a construction failure is a
		// programming error, not a runtime condition.
		panic(err)
	}
	return cat
}
