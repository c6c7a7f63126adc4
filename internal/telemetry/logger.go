package telemetry

import "github.com/tphakala/audiostream/internal/logger"

func getLogger() logger.Logger {
	return logger.Global().Module("telemetry")
}
