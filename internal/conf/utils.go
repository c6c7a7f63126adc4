// conf/utils.go: path helpers for the configuration
package conf

import (
	"os"
	"path/filepath"
	"runtime"

	"github.com/tphakala/audiostream/internal/errors"
)

const (
	osWindows = "windows"
	appDir    = "audiostream"
)

// GetDefaultConfigPaths returns the directories searched for config.yaml, most preferred first.
func GetDefaultConfigPaths() ([]string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, errors.New(err).
			Category(errors.CategorySystem).
			Context("operation", "get-home-directory").
			Build()
	}

	switch runtime.GOOS {
	case osWindows:
		exePath, err := os.Executable()
		if err != nil {
			return nil, errors.New(err).
				Category(errors.CategorySystem).
				Context("operation", "get-executable-path").
				Build()
		}
		return []string{
			filepath.Join(homeDir, "AppData", "Roaming", appDir),
			filepath.Dir(exePath),
		}, nil
	default:
		return []string{
			filepath.Join(homeDir, ".config", appDir),
			filepath.Join("/etc", appDir),
		}, nil
	}
}
