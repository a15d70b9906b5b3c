package openrouter

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat asks the model for structured output.
type ResponseFormat struct {
	Type       string      `json:"type"`
	JSONSchema *JSONSchema `json:"json_schema,omitempty"`
}

type JSONSchema struct {
	Name   string         `json:"name"`
	Strict bool           `json:"strict"`
	Schema map[string]any `json:"schema"`
}

// ChatRequest is the input of Client.Chat. Nil sampling fields fall back to the client defaults or are omitted.
type ChatRequest struct {
	Model            string
	Messages         []Message
	Temperature      *float64
	MaxTokens        *int
	ResponseFormat   *ResponseFormat
	TopP             *float64
	FrequencyPenalty *float64
	PresencePenalty  *float64
}

type completionRequest struct {
	Model            string          `json:"model"`
	Messages         []Message       `json:"messages"`
	Temperature      float64         `json:"temperature"`
	MaxTokens        int             `json:"max_tokens"`
	ResponseFormat   *ResponseFormat `json:"response_format,omitempty"`
	TopP             *float64        `json:"top_p,omitempty"`
	FrequencyPenalty *float64        `json:"frequency_penalty,omitempty"`
	PresencePenalty  *float64        `json:"presence_penalty,omitempty"`
}

type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Created int64    `json:"created"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// FlashcardProposal is a question/answer pair proposed by the model and not yet saved.
type FlashcardProposal struct {
	Front string `json:"front" validate:"min=1,max=200"`
	Back  string `json:"back" validate:"min=1,max=500"`
}

type proposalEnvelope struct {
	Proposals []FlashcardProposal `json:"proposals" validate:"required,min=1,max=10,dive"`
}
