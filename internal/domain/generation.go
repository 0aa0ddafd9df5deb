package domain

// GenerationResult is a completed answer from the completion provider with
// its token usage. Model is the name the provider reported, which may differ
// from the configured alias.
type GenerationResult struct {
	Content          string
	Model            string
	PromptTokens     int
	CompletionTokens int
}
