package vertexai

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/auth"
	"cloud.google.com/go/auth/credentials"
)

const cloudPlatformScope = "https://www.googleapis.com/auth/cloud-platform"

// Credentials resolves service-account credentials for Vertex AI.
// Inline JSON (VERTEXAI_CREDENTIALS_JSON, for hosted deploys) wins over a file path
// (VERTEXAI_CREDENTIALS_PATH, for local runs). With neither, it returns nil and the
// client falls back to Application Default Credentials.
func Credentials(credsJSON, credsPath string, logger *slog.Logger) (*auth.Credentials, error) {
	var data []byte
	switch {
	case credsJSON != "":
		logger.Info("vertex credentials from environment")
		data = []byte(credsJSON)
	case credsPath != "":
		logger.Info("vertex credentials from file", "path", credsPath)
		raw, err := os.ReadFile(credsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		data = raw
	default:
		logger.Info("no explicit vertex credentials, using application default credentials")
		return nil, nil
	}

	if !json.Valid(data) {
		return nil, fmt.Errorf("invalid JSON credentials")
	}
	creds, err := credentials.DetectDefault(&credentials.DetectOptions{
		Scopes:          []string{cloudPlatformScope},
		CredentialsJSON: data,
	})
	if err != nil {
		return nil, fmt.Errorf("vertex credentials: %w", err)
	}
	return creds, nil
}
