// Package buildinfo carries build-time metadata separate from user configuration.
package buildinfo

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/audiostream/internal/errors"
	"github.com/tphakala/audiostream/internal/privacy"
)

// UnknownValue is reported for metadata that was not injected at build time.
const UnknownValue = "unknown"

const systemIDFile = ".system_id"

// BuildInfo provides access to build-time metadata.
type BuildInfo interface {
	Version() string
	BuildDate() string
	SystemID() string
}

// Context is the BuildInfo injected at startup from linker flags.
type Context struct {
	version   string
	buildDate string
	systemID  string
}

// NewContext returns build metadata. Empty values read back as UnknownValue.
func NewContext(version, buildDate, systemID string) *Context {
	return &Context{version: version, buildDate: buildDate, systemID: systemID}
}

// Version returns the build version string
func (c *Context) Version() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.version)
}

// BuildDate returns the build date string
func (c *Context) BuildDate() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.buildDate)
}

// SystemID returns the anonymous identifier attached to telemetry events
func (c *Context) SystemID() string {
	if c == nil {
		return UnknownValue
	}
	return orUnknown(c.systemID)
}

func orUnknown(s string) string {
	if s == "" {
		return UnknownValue
	}
	return s
}

// LoadOrCreateSystemID reads the system ID stored in dir, generating and
// persisting a new one when the file is missing or holds a malformed ID.
func LoadOrCreateSystemID(dir string) (string, error) {
	path := filepath.Join(dir, systemIDFile)

	if data, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(data)); privacy.IsValidSystemID(id) {
			return id, nil
		}
	}

	id, err := privacy.GenerateSystemID()
	if err != nil {
		return "", errors.New(err).
			Component("buildinfo").
			Category(errors.CategorySystem).
			Build()
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.New(err).
			Component("buildinfo").
			Category(errors.CategoryFileIO).
			Context("operation", "create_config_dir").
			Build()
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", errors.New(err).
			Component("buildinfo").
			Category(errors.CategoryFileIO).
			Context("operation", "write_system_id").
			Build()
	}
	return id, nil
}
