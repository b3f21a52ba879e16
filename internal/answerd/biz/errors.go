package biz

import "fmt"

// ValidationError reports malformed caller input, such as mismatched
// fusion score arrays.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// RetrievalError reports an unreachable or failing evidence store. It
// fails the query; there is no inline retry.
type RetrievalError struct {
	Err error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("evidence retrieval failed: %v", e.Err)
}

func (e *RetrievalError) Unwrap() error {
	return e.Err
}

// GenerationError reports a language-model provider failure. It is
// distinct from the coverage-triggered regeneration retry, which is
// policy rather than error recovery.
type GenerationError struct {
	Provider string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("answer generation failed (provider %s): %v", e.Provider, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// GroundingError reports that no citations survived the full pipeline.
// It is fatal for the query and never retried.
type GroundingError struct {
	Message string
}

func (e *GroundingError) Error() string {
	return fmt.Sprintf("grounding failed: %s", e.Message)
}
