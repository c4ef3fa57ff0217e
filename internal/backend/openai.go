package backend

// Role of a chat message on the wire
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatMessage is a single role/content pair sent to the completion service
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// RequestSpec describes one completion call. It is built fresh for every call and never stored.
type RequestSpec struct {
	Model       string
	Credential  string
	Messages    []ChatMessage
	MaxTokens   int
	Temperature float64
}

// OpenAIRequest represents the request body for OpenAI-compatible APIs
type OpenAIRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
}

// NewOpenAIRequest converts a RequestSpec into its wire body. The credential travels in a header.
func NewOpenAIRequest(spec RequestSpec) OpenAIRequest {
	messages := make([]ChatMessage, len(spec.Messages))
	copy(messages, spec.Messages)
	return OpenAIRequest{
		Model:       spec.Model,
		Messages:    messages,
		MaxTokens:   spec.MaxTokens,
		Temperature: spec.Temperature,
	}
}

// OpenAIResponse represents the response from OpenAI-compatible APIs
type OpenAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message *struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage map[string]interface{} `json:"usage"`
}

// Content returns choices[0].message.content, or false when the response has no such field.
func (r *OpenAIResponse) Content() (string, bool) {
	if len(r.Choices) == 0 || r.Choices[0].Message == nil || r.Choices[0].Message.Content == nil {
		return "", false
	}
	return *r.Choices[0].Message.Content, true
}
