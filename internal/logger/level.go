// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package logger

import "strings"

// DiffToInfo is the number of levels before "Info", so that "Info" is the
// 0th level passed to a logr-shaped LogSink.
const DiffToInfo = 1

// Level is the severity of a single log line.
type Level int

const (
	// LevelOff suppresses logging.
	LevelOff Level = iota
	// LevelInfo is high-level information about normal behavior: topology
	// opened/closed, server admitted/removed.
	LevelInfo
	// LevelDebug is voluminous detail useful when diagnosing a specific
	// topology: every submitted observation, every reconciliation pass.
	LevelDebug
)

// Component identifies the subsystem a log line came from.
type Component string

// Components this module logs from.
const (
	ComponentTopology Component = "topology"
	ComponentMonitor  Component = "monitor"
	ComponentPool     Component = "pool"
)

var levelLiteralMap = map[string]Level{
	"off":   LevelOff,
	"info":  LevelInfo,
	"debug": LevelDebug,
}

// ParseLevel parses str as a Level, case-insensitively, defaulting to
// LevelOff for anything unrecognized.
func ParseLevel(str string) Level {
	if level, ok := levelLiteralMap[strings.ToLower(strings.TrimSpace(str))]; ok {
		return level
	}
	return LevelOff
}
