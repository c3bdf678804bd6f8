package llm

// Roles used in chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents a chat message in a conversation.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response represents a complete response from an LLM provider.
type Response struct {
	Content string `json:"content"`
	Usage   Usage  `json:"usage"`
}

// Usage tracks token consumption for a request/response pair.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// Image is a generated image. Providers fill Data when the payload was
// returned inline and URL when it has to be downloaded.
type Image struct {
	Data []byte
	URL  string
}

// Empty reports whether the image carries neither bytes nor a URL.
func (i *Image) Empty() bool {
	return i == nil || (len(i.Data) == 0 && i.URL == "")
}
