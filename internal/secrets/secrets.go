// Package secrets resolves credentials such as the telemetry DSN from
// environment references or mounted secret files, never logging their values.
package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/logger"
)

const (
	// maxSecretFileSize limits secret file reads; secrets are tokens, not media.
	maxSecretFileSize = 64 * 1024

	componentSecrets = "secrets"
)

// ExpandString resolves ${VAR} and ${VAR:-default} references in s. A
// reference without a fallback to an unset variable is an error.
func ExpandString(s string) (string, error) {
	if s == "" {
		return "", nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		name, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(name); v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, name)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("missing required environment variable(s): %s", strings.Join(missing, ", ")).
			Component(componentSecrets).
			Category(errors.CategoryConfiguration).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a secret from a file such as a Docker or Kubernetes mounted
// secret. Trailing newlines are trimmed; files readable by group or others
// are accepted with a warning.
func ReadFile(path string) (string, error) {
	if path == "" {
		return "", errors.Newf("secret file path is empty").
			Component(componentSecrets).
			Category(errors.CategoryValidation).
			Build()
	}
	cleanPath := filepath.Clean(path)

	info, err := os.Stat(cleanPath)
	if err != nil {
		return "", errors.New(fmt.Errorf("failed to stat secret file: %w", err)).
			Component(componentSecrets).
			Category(errors.CategoryFileIO).
			Build()
	}
	if !info.Mode().IsRegular() {
		return "", errors.Newf("secret path is not a regular file: %s", cleanPath).
			Component(componentSecrets).
			Category(errors.CategoryValidation).
			Build()
	}
	if info.Size() > maxSecretFileSize {
		return "", errors.Newf("secret file too large (max %d bytes): %s", maxSecretFileSize, cleanPath).
			Component(componentSecrets).
			Category(errors.CategoryLimit).
			Build()
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module(componentSecrets).Warn("secret file is readable by group or others",
			logger.String("path", cleanPath),
			logger.String("mode", fmt.Sprintf("%04o", perm)))
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return "", errors.New(fmt.Errorf("failed to read secret file: %w", err)).
			Component(componentSecrets).
			Category(errors.CategoryFileIO).
			Build()
	}

	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", errors.Newf("secret file is empty: %s", cleanPath).
			Component(componentSecrets).
			Category(errors.CategoryValidation).
			Build()
	}
	return secret, nil
}

// Resolve returns the secret from filePath when set, otherwise value with
// environment references expanded. Both empty yields an empty secret.
func Resolve(filePath, value string) (string, error) {
	if filePath != "" {
		return ReadFile(filePath)
	}
	return ExpandString(value)
}
