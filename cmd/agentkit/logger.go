// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"fmt"
	"os"

	"golang.org/x/term"

	"github.com/kadirpekel/agentkit/pkg/config"
	"github.com/kadirpekel/agentkit/pkg/logger"
)

const (
	// LogLevelEnvVar is the environment variable name for log level
	LogLevelEnvVar = "LOG_LEVEL"
	// LogFormatEnvVar is the environment variable name for log format
	LogFormatEnvVar = "LOG_FORMAT"
	// LogFileEnvVar is the environment variable name for log file path
	LogFileEnvVar = "LOG_FILE"
)

// resolveLogSettings picks each setting from the flag, then the
// environment, then the config file, then the default.
func resolveLogSettings(flagLevel, flagFile, flagFormat string, cfg config.LoggerConfig) (level, file, format string) {
	pick := func(flag, env, fromCfg, def string) string {
		for _, v := range []string{flag, os.Getenv(env), fromCfg} {
			if v != "" {
				return v
			}
		}
		return def
	}
	level = pick(flagLevel, LogLevelEnvVar, cfg.Level, "info")
	file = pick(flagFile, LogFileEnvVar, cfg.File, "")
	format = pick(flagFormat, LogFormatEnvVar, cfg.Format, logger.FormatSimple)
	return level, file, format
}

// initLogger installs the process logger. The returned func closes the log
// file, if one was opened.
func initLogger(flagLevel, flagFile, flagFormat string, cfg config.LoggerConfig) (func(), error) {
	levelStr, file, format := resolveLogSettings(flagLevel, flagFile, flagFormat, cfg)

	level, err := logger.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	if !logger.ValidFormat(format) {
		return nil, fmt.Errorf("invalid log format %q (valid: simple, verbose, json)", format)
	}

	output := os.Stderr
	cleanup := func() {}
	if file != "" {
		f, closeFn, err := logger.OpenLogFile(file)
		if err != nil {
			return nil, err
		}
		output, cleanup = f, closeFn
	}
	logger.Init(level, output, format)
	return cleanup, nil
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
