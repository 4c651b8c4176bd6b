package generation

import "fmt"

// Message is one chat turn in the OpenAI-compatible wire format.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the chat completion request body.
type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
}

// ChatResponse models only the fields the client reads.
type ChatResponse struct {
	ID      string   `json:"id"`
	Choices []Choice `json:"choices"`
}

type Choice struct {
	Message *Reply `json:"message"`
}

// Reply is an assistant message as received. Content is nil when the field
// is absent or null, as for replies withheld by a safety filter.
type Reply struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

// Error reports a failed generation call. Status is the upstream HTTP
// status, or 0 when no response was received (transport error, timeout).
type Error struct {
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Detail != "":
		return fmt.Sprintf("generation failed (HTTP %d): %s", e.Status, e.Detail)
	case e.Status != 0:
		return fmt.Sprintf("generation failed (HTTP %d)", e.Status)
	case e.Err != nil && e.Detail != "":
		return fmt.Sprintf("generation failed: %s: %v", e.Detail, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("generation failed: %v", e.Err)
	default:
		return "generation failed: " + e.Detail
	}
}

func (e *Error) Unwrap() error { return e.Err }
