package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrEmptyPrompt is returned when a prompt is empty.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrInvalidConfig is returned when the client configuration is invalid.
	ErrInvalidConfig = errors.New("invalid gemini client configuration")

	// ErrInvalidResponse is returned when the model response cannot be
	// used (nil, empty, or malformed). Permanent; never retried.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the model blocks the content due
	// to safety filters. Permanent; never retried.
	ErrContentBlocked = errors.New("content blocked by language model safety filters")
)
