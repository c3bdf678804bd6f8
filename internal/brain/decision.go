// Package brain asks the language model what to do with a mention and turns
// its free-form answer into a Decision.
package brain

// Tool names understood by the dispatcher.
const (
	ToolChat          = "chat"
	ToolGenerateImage = "generate_image"
)

// Decision is one of Chat, GenerateImage or Unknown.
type Decision interface {
	// Tool returns the tool name the decision was parsed from.
	Tool() string
	sealed()
}

// Chat is a ready-to-post text reply.
type Chat struct {
	Text string
}

// GenerateImage asks for an image. Prompt is in the persona's language.
type GenerateImage struct {
	Prompt string
}

// Unknown is a well-formed decision the dispatcher cannot act on: an
// unrecognised tool, or a known tool with an empty argument.
type Unknown struct {
	Name     string
	Argument string
}

func (Chat) Tool() string          { return ToolChat }
func (GenerateImage) Tool() string { return ToolGenerateImage }
func (u Unknown) Tool() string     { return u.Name }

func (Chat) sealed()          {}
func (GenerateImage) sealed() {}
func (Unknown) sealed()       {}
