package analysis

import "strings"

const (
	promptPreamble  = "Analyze the uploaded video for content and context."
	promptDirective = "Provide a detailed, user-friendly, and actionable response."
)

// BuildPrompt wraps the user's query, verbatim, between the fixed preamble
// and closing directive.
func BuildPrompt(query string) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", ErrEmptyQuery
	}
	return promptPreamble + "\n" + query + "\n\n" + promptDirective, nil
}
