// Copyright 2024-2026 Aiku AI

package config

import (
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/zeroconfig"
)

// NewLogger compiles the logging section. An empty section logs pretty
// output to stdout.
func (c *Config) NewLogger() (*zerolog.Logger, error) {
	logCfg := c.Logging
	if len(logCfg.Writers) == 0 {
		logCfg.Writers = []zeroconfig.WriterConfig{{
			Type:   zeroconfig.WriterTypeStdout,
			Format: zeroconfig.LogFormatPrettyColored,
		}}
	}
	log, err := logCfg.Compile()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return log, nil
}
