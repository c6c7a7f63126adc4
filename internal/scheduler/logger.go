package scheduler

import "github.com/tphakala/audiostream/internal/logger"

// GetLogger returns the scheduler package logger
func GetLogger() logger.Logger {
	return logger.Global().Module("scheduler")
}
