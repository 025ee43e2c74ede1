// Copyright (c) Intel Corporation.
// Licensed under the Apache License, Version 2.0.

// Package exekong carries the logging flags shared by the kong-based CLIs.
package exekong

import (
	"strings"

	"github.com/alecthomas/kong"
	"github.com/clearlinux/verity-image-tools/internal/logger"
)

// KongVars holds the interpolation values referenced by LogFlags' tags. Pass
// it to kong.Parse alongside the tool's own variables.
var KongVars = kong.Vars{
	"logcolorhelp":   logger.ColorFlagHelp,
	"logcolorvalues": strings.Join(logger.Colors(), ", ") + ",",
	"logfilehelp":    logger.FileFlagHelp,
	"loglevelhelp":   logger.LevelsHelp,
	"loglevelvalues": strings.Join(logger.Levels(), ", ") + ",",
}

// LogFlags is embedded into a tool's CLI grammar to add the standard logging
// flags. The empty defaults let the logger fall back to its own defaults when
// a flag is not passed.
type LogFlags struct {
	LogColor string `name:"log-color" placeholder:"(always|auto|never)" help:"${logcolorhelp}" enum:"${logcolorvalues}" default:""`
	LogFile  string `name:"log-file" help:"${logfilehelp}"`
	LogLevel string `name:"log-level" placeholder:"(panic|fatal|error|warn|info|debug|trace)" help:"${loglevelhelp}" enum:"${loglevelvalues}" default:""`
}

// AsLoggerFlags converts the parsed flag values into the logger's flags
// structure.
func (f LogFlags) AsLoggerFlags() logger.LogFlags {
	return logger.LogFlags{
		LogColor: &f.LogColor,
		LogFile:  &f.LogFile,
		LogLevel: &f.LogLevel,
	}
}
