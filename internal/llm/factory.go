package llm

import (
	"fmt"
	"strings"
)

// NewClient creates a new oracle client based on configuration. An empty
// provider selects the local stub so the pipeline always has a usable
// input path.
func NewClient(config Config) (Client, error) {
	provider := strings.ToLower(config.Provider)

	switch provider {
	case "openai":
		return NewOpenAIClient(config)

	case "local", "":
		return NewLocalClient(config), nil

	default:
		return nil, fmt.Errorf("unknown oracle provider: %s (supported: openai, local)", config.Provider)
	}
}
