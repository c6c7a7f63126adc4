package packetizer

import "github.com/tphakala/audiostream/internal/logger"

// GetLogger returns the packetizer logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("packetizer")
}
