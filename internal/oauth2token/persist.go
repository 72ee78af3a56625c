package oauth2token

import (
	"encoding/json"
	"fmt"
	"os"
)

// Persist selects how a Provider's token cache survives across restarts.
type Persist int

const (
	PersistNone Persist = iota
	PersistMemory
	PersistMemoryAndDisk
)

func loadDisk(path string) (map[string]entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("oauth2token: reading token cache: %w", err)
	}

	var tokens map[string]entry
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("oauth2token: decoding token cache: %w", err)
	}

	return tokens, nil
}

func saveDisk(path string, tokens map[string]entry) error {
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return fmt.Errorf("oauth2token: encoding token cache: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("oauth2token: writing token cache: %w", err)
	}

	return nil
}
