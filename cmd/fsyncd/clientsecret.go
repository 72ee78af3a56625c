package main

import (
	"encoding/json"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// driveScopes is the scope set requested for the GoogleDrive provider. The
// concrete REST mapping is out of scope (spec.md §1); this is the scope a
// real client would ask for, kept so the token provider exercises a
// realistic scope string.
var driveScopes = []string{"https://www.googleapis.com/auth/drive"}

// clientSecretFile is the on-disk shape of an optional per-instance
// client_secret.json (spec.md §6). Machine config, not user-facing, so it
// is plain JSON rather than the TOML used for config.json.
type clientSecretFile struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	AuthURL      string `json:"auth_url"`
	TokenURL     string `json:"token_url"`
}

// builtinClientID/builtinClientSecret stand in for the teacher's enciphered
// built-in application registration (spec.md §9 design notes: the secret is
// an injected configuration value, kept out of the core oauth2token
// package). Real deployments always supply client_secret.json.
const (
	builtinClientID     = "fsync-builtin.apps.example.com"
	builtinClientSecret = "builtin-placeholder-secret"
)

// loadOAuth2Config builds the *oauth2.Config for the instance: from path if
// it exists and decodes cleanly, otherwise the built-in placeholder
// registration.
func loadOAuth2Config(path string) (*oauth2.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return builtinOAuth2Config(), nil
		}

		return nil, fmt.Errorf("reading client secret %s: %w", path, err)
	}

	var f clientSecretFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing client secret %s: %w", path, err)
	}

	endpoint := google.Endpoint
	if f.AuthURL != "" && f.TokenURL != "" {
		endpoint = oauth2.Endpoint{AuthURL: f.AuthURL, TokenURL: f.TokenURL}
	}

	return &oauth2.Config{
		ClientID:     f.ClientID,
		ClientSecret: f.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       driveScopes,
	}, nil
}

func builtinOAuth2Config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:     builtinClientID,
		ClientSecret: builtinClientSecret,
		Endpoint:     google.Endpoint,
		Scopes:       driveScopes,
	}
}
