package observability

import "github.com/tphakala/audiostream/internal/logger"

// getLogger resolves the module logger on each call so the endpoint picks up
// the logging configuration installed after package init.
func getLogger() logger.Logger {
	return logger.Global().Module("observability")
}
