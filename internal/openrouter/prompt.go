package openrouter

import (
	"strings"
)

const (
	proposalsSchemaName = "flashcard_proposals"

	MaxFrontLength = 200
	MaxBackLength  = 500
	MinProposals   = 1
	MaxProposals   = 10
)

const flashcardSystemPrompt = `You are an experienced educator who writes study flashcards.

Read the text supplied by the user and propose flashcards that follow these rules:

1. Front (question):
   - Ask one clear, specific question that checks understanding
   - Prefer open questions over yes/no questions
   - Target key concepts, definitions and relationships
   - Keep it between 1 and 200 characters

2. Back (answer):
   - Answer concisely while staying complete
   - Add only the context needed to make the answer stand alone
   - Keep it between 1 and 500 characters

3. Quantity:
   - Produce between 3 and 10 flashcards depending on how rich the text is
   - Cover as much of the material as possible without repeating questions

4. Accuracy:
   - Stay faithful to the source text

Reply only with a JSON object that matches the provided schema.`

func flashcardUserPrompt(sourceText string) string {
	var builder strings.Builder
	builder.WriteString("Generate flashcards from the following text:\n\n")
	builder.WriteString(sourceText)
	return builder.String()
}

func flashcardMessages(sourceText string) []Message {
	return []Message{
		{Role: RoleSystem, Content: flashcardSystemPrompt},
		{Role: RoleUser, Content: flashcardUserPrompt(sourceText)},
	}
}

// FlashcardResponseFormat is the strict json_schema response format requested for proposals.
func FlashcardResponseFormat() *ResponseFormat {
	return &ResponseFormat{
		Type: "json_schema",
		JSONSchema: &JSONSchema{
			Name:   proposalsSchemaName,
			Strict: true,
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"proposals": map[string]any{
						"type": "array",
						"items": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"front": map[string]any{
									"type":        "string",
									"minLength":   1,
									"maxLength":   MaxFrontLength,
									"description": "Question shown on the front of the card",
								},
								"back": map[string]any{
									"type":        "string",
									"minLength":   1,
									"maxLength":   MaxBackLength,
									"description": "Answer shown on the back of the card",
								},
							},
							"required":             []string{"front", "back"},
							"additionalProperties": false,
						},
						"minItems": MinProposals,
						"maxItems": MaxProposals,
					},
				},
				"required":             []string{"proposals"},
				"additionalProperties": false,
			},
		},
	}
}
