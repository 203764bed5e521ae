package incident

import "context"

// Provider is the interface for the generative text backend that drafts
// playbooks.
type Provider interface {
	Send(ctx context.Context, req *LLMRequest) (*LLMResponse, error)
}

// LLMRequest is a single-turn drafting request.
type LLMRequest struct {
	MaxTokens int
	System    string
	Prompt    string
}

// LLMResponse is the text the backend produced plus accounting.
type LLMResponse struct {
	Text       string
	Model      string
	StopReason string
	Usage      Usage
}

// Usage is the token accounting reported by the backend.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
