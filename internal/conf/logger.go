package conf

import "github.com/tphakala/audiostream/internal/logger"

// Package-level cached logger instance for efficiency.
var log = logger.Global().Module("config")
