package config

import "errors"

// ErrInvalidConfig wraps all configuration validation failures so callers
// can distinguish bad config from I/O errors with errors.Is.
var ErrInvalidConfig = errors.New("invalid configuration")
