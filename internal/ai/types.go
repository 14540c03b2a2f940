package ai

import (
	"errors"
	"fmt"
	"time"
)

// Message is one entry of the chat history sent upstream.
type Message struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

type ChatRequest struct {
	Model    string    `json:"model"`
	Messages []Message `json:"messages"`
	Stream   bool      `json:"stream"`
}

// StreamRecord is one decoded line of a streaming chat response.
type StreamRecord struct {
	Content string
	Done    bool

	// Populated on the terminal record only.
	DoneReason      string
	PromptEvalCount int
	EvalCount       int
	TotalDuration   time.Duration

	// Error is an in-band error message reported by the backend.
	Error string
}

var ErrBackendUnavailable = errors.New("ollama backend unavailable")

// StatusError is a non-2xx answer received before any streaming began.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ollama: status %d: %s", e.StatusCode, e.Message)
}
