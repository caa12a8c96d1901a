// Copyright (C) MongoDB, Inc. 2017-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package logger is the ambient structured-logging layer used by the
// topology, monitor, and pool packages: a LogSink interface shaped like
// go-logr's, fed by a single printer goroutine draining a bounded job
// channel so a slow sink can never stall the caller.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const jobBufferSize = 100
const logLevelEnvVarAll = "MONGODB_TOPOLOGY_LOG_ALL"
const logSinkEnvVar = "MONGODB_TOPOLOGY_LOG_PATH"

// LogSink is a subset of go-logr's LogSink interface: a single Info method
// taking a verbosity level, a message, and alternating key/value pairs.
type LogSink interface {
	Info(level int, msg string, keysAndValues ...interface{})
}

// osSink writes to an *os.File, one line per call.
type osSink struct {
	mu sync.Mutex
	w  *os.File
}

func newOSSink(w *os.File) *osSink { return &osSink{w: w} }

// Info implements LogSink.
func (s *osSink) Info(level int, msg string, keysAndValues ...interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var b strings.Builder
	fmt.Fprintf(&b, "[level=%d] %s", level, msg)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
	}
	fmt.Fprintln(s.w, b.String())
}

type job struct {
	level         Level
	component     Component
	msg           string
	keysAndValues []interface{}
}

// Logger owns a bounded job channel drained by one printer goroutine, so
// Print never blocks on a slow Sink.
type Logger struct {
	ComponentLevels map[Component]Level
	Sink            LogSink

	jobs chan job
	wg   sync.WaitGroup
}

// New constructs a Logger. componentLevels takes priority over whatever the
// environment specifies; if sink is nil, logs go to os.Stderr.
func New(sink LogSink, componentLevels map[Component]Level) *Logger {
	l := &Logger{
		ComponentLevels: selectComponentLevels(componentLevels, getEnvComponentLevels()),
		Sink:            selectSink(sink, getEnvSink()),
		jobs:            make(chan job, jobBufferSize),
	}
	l.wg.Add(1)
	go l.run()
	return l
}

// Close stops the printer goroutine once every queued job has drained.
func (l *Logger) Close() {
	close(l.jobs)
	l.wg.Wait()
}

// Is reports whether level is enabled for component.
func (l *Logger) Is(level Level, component Component) bool {
	return l.ComponentLevels[component] >= level
}

// Print enqueues a log line. If the job queue is full, the line is dropped
// rather than blocking the caller — the same non-blocking-delivery
// guarantee event.ChannelSink makes for topology events.
func (l *Logger) Print(level Level, component Component, msg string, keysAndValues ...interface{}) {
	if !l.Is(level, component) {
		return
	}
	select {
	case l.jobs <- job{level: level, component: component, msg: msg, keysAndValues: keysAndValues}:
	default:
	}
}

func (l *Logger) run() {
	defer l.wg.Done()
	for j := range l.jobs {
		if l.Sink == nil {
			continue
		}
		l.Sink.Info(int(j.level)-DiffToInfo, "["+string(j.component)+"] "+j.msg, j.keysAndValues...)
	}
}

func selectSink(explicit, fromEnv LogSink) LogSink {
	if explicit != nil {
		return explicit
	}
	if fromEnv != nil {
		return fromEnv
	}
	return newOSSink(os.Stderr)
}

func getEnvSink() LogSink {
	switch strings.ToLower(os.Getenv(logSinkEnvVar)) {
	case "stdout":
		return newOSSink(os.Stdout)
	case "stderr":
		return newOSSink(os.Stderr)
	default:
		return nil
	}
}

func selectComponentLevels(explicit, fromEnv map[Component]Level) map[Component]Level {
	selected := make(map[Component]Level, len(fromEnv))
	for c, l := range fromEnv {
		selected[c] = l
	}
	for c, l := range explicit {
		selected[c] = l
	}
	return selected
}

func getEnvComponentLevels() map[Component]Level {
	components := []Component{ComponentTopology, ComponentMonitor, ComponentPool}
	levels := make(map[Component]Level, len(components))

	global := ParseLevel(os.Getenv(logLevelEnvVarAll))

	for _, c := range components {
		level := global
		if level == LevelOff {
			envVar := "MONGODB_TOPOLOGY_LOG_" + strings.ToUpper(string(c))
			level = ParseLevel(os.Getenv(envVar))
		}
		levels[c] = level
	}
	return levels
}
