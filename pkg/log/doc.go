/*
Package log provides structured logging for the Theater runtime using zerolog.

The log package wraps the zerolog library to provide JSON-structured logging with
component-specific loggers, configurable log levels, and helper functions for
common logging patterns. All logs include timestamps and support filtering by
severity level for production debugging.

# Architecture

The runtime's logging system provides structured JSON logging with minimal overhead:

	┌──────────────────── LOGGING SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            Global Logger                    │          │
	│  │  - Zerolog instance                         │          │
	│  │  - Initialized via log.Init()               │          │
	│  │  - Thread-safe for concurrent use           │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Configuration                     │          │
	│  │  - Level: debug/info/warn/error             │          │
	│  │  - Format: JSON or console (human)          │          │
	│  │  - Output: stdout, file, or custom writer   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Component Loggers                   │          │
	│  │  - WithComponent("actor")                   │          │
	│  │  - WithActorID("actor-abc123")              │          │
	│  │  - WithChannelID("chan-xyz")                │          │
	│  │  - WithConnID(7)                            │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │            Log Output                       │          │
	│  │                                              │          │
	│  │  JSON Format:                               │          │
	│  │  {                                           │          │
	│  │    "level": "info",                         │          │
	│  │    "component": "actor",                    │          │
	│  │    "time": "2026-07-30T10:30:00Z",         │          │
	│  │    "message": "actor stopped"               │          │
	│  │  }                                           │          │
	│  │                                              │          │
	│  │  Console Format:                            │          │
	│  │  2026-07-30T10:30:00Z INF actor stopped ... │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Global Logger:
  - Package-level zerolog.Logger instance
  - Initialized once via log.Init()
  - Accessible from every package in this module
  - Thread-safe concurrent writes

Log Levels:
  - Debug: Detailed debugging information
  - Info: General informational messages
  - Warn: Warning messages (potential issues)
  - Error: Error messages (operation failed)
  - Fatal: Critical errors (process exits)

Configuration:
  - Level: Filter messages below threshold
  - JSONOutput: JSON vs human-readable console
  - Output: io.Writer for log destination (stdout, file)

Context Loggers:
  - WithComponent: Add component field to all logs
  - WithActorID: Add actor_id field (spec.md §4.5 actor instances)
  - WithChannelID: Add channel_id field (spec.md §4.6 channels)
  - WithConnID: Add conn_id field (one External Management Surface connection)

# Log Levels

Debug Level:
  - Purpose: Detailed debugging information
  - Usage: Development and troubleshooting
  - Performance: Verbose, may impact production
  - Example: "mailbox delivery: actor=actor-abc queue_depth=3"

Info Level:
  - Purpose: General informational messages
  - Usage: Default production level
  - Performance: Moderate volume
  - Example: "actor stopped"

Warn Level:
  - Purpose: Potential issues or unexpected conditions
  - Usage: Situations that may require attention
  - Performance: Low volume
  - Example: "channel rejected by peer actor"

Error Level:
  - Purpose: Operation failures that need investigation
  - Usage: Failed operations, exceptions
  - Performance: Low volume
  - Example: "actor failed: component trapped"

Fatal Level:
  - Purpose: Critical errors causing process termination
  - Usage: Unrecoverable errors only
  - Behavior: Logs message and exits process (os.Exit(1))
  - Example: "failed to open content store: %v"

# Usage

Initializing the Logger:

	import "github.com/cuemby/theater/pkg/log"

	// JSON output (production)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     os.Stdout,
	})

	// Console output (development)
	log.Init(log.Config{
		Level:      log.DebugLevel,
		JSONOutput: false,
		Output:     os.Stdout,
	})

	// Custom output (file)
	file, _ := os.OpenFile("/var/log/theaterd.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	log.Init(log.Config{
		Level:      log.InfoLevel,
		JSONOutput: true,
		Output:     file,
	})

Simple Logging:

	log.Info("runtime starting")
	log.Debug("loading manifest")
	log.Warn("mailbox near capacity")
	log.Error("failed to spawn actor")
	log.Fatal("cannot start without a content store") // Exits process

Structured Logging:

	log.Logger.Info().
		Str("actor_id", "actor-123").
		Int("mailbox_capacity", 64).
		Msg("actor spawned")

	log.Logger.Error().
		Err(err).
		Str("actor_id", "actor-abc").
		Msg("handler activation failed")

Component Loggers:

	// Create component-specific logger
	supervisorLog := log.WithComponent("supervisor")
	supervisorLog.Info().Msg("restart policy triggered")
	supervisorLog.Debug().Str("actor_id", "actor-123").Msg("respawning child")

Context Logger Helpers:

	// Actor-specific logs
	actorLog := log.WithActorID("actor-abc123")
	actorLog.Info().Msg("actor terminated")

	// Channel-specific logs
	chanLog := log.WithChannelID("chan-xyz789")
	chanLog.Info().Msg("channel closed")

	// Connection-specific logs (pkg/management)
	connLog := log.WithConnID(7)
	connLog.Debug().Msg("connection read error")

Complete Example:

	package main

	import (
		"errors"
		"os"
		"github.com/cuemby/theater/pkg/log"
	)

	func main() {
		log.Init(log.Config{
			Level:      log.InfoLevel,
			JSONOutput: true,
			Output:     os.Stdout,
		})

		log.Info("theaterd starting")

		actorLog := log.WithActorID("actor-1")
		actorLog.Info().Msg("actor spawned")

		err := errors.New("component trap")
		log.Logger.Error().
			Err(err).
			Str("component", "actor").
			Msg("actor failed")

		log.Info("theaterd stopped")
	}

# Integration Points

This package integrates with:

  - pkg/actor: Logs actor lifecycle (spawn, stop, terminate, failure)
  - pkg/management: Logs External Management Surface connection lifecycle
  - pkg/sandbox/bootstrap: Logs sandbox runtime provisioning

pkg/supervisor, pkg/router and pkg/store do not log; they return wrapped
errors to their callers.

# Log Output Examples

JSON Format (Production):

	{"level":"info","component":"actor","actor_id":"actor-abc","time":"2026-07-30T10:30:00Z","message":"actor stopped"}
	{"level":"debug","conn_id":7,"time":"2026-07-30T10:30:01Z","message":"connection read error"}
	{"level":"error","component":"actor","actor_id":"actor-abc","error":"component trapped","time":"2026-07-30T10:30:02Z","message":"actor failed"}

Console Format (Development):

	2026-07-30T10:30:00Z INF actor stopped component=actor actor_id=actor-abc
	2026-07-30T10:30:01Z DBG connection read error conn_id=7
	2026-07-30T10:30:02Z ERR actor failed component=actor actor_id=actor-abc error="component trapped"

# Design Patterns

Global Logger Pattern:
  - Single package-level Logger instance
  - Initialized once at application start
  - Accessible from all packages without passing
  - Simplifies logging in deeply nested calls

Context Logger Pattern:
  - Create child loggers with context fields
  - Pass context loggers to functions
  - Automatically includes context in all logs
  - Avoids repetitive field specification

Structured Logging Pattern:
  - Use typed fields (.Str, .Int, .Err)
  - Enables log aggregation and querying
  - Better than string concatenation
  - Parseable by log analysis tools

Error Logging Pattern:
  - Always use .Err(err) for error objects
  - Provides consistent error formatting
  - Enables error tracking and alerting
  - Consistent error format across codebase

# Performance Characteristics

Logging Overhead:
  - Disabled level: 0ns (compile-time optimization)
  - JSON encode: ~500ns per log line
  - Console format: ~1µs per log line
  - String field: +50ns per field
  - Int field: +30ns per field

Memory Allocation:
  - Zero allocation for disabled levels
  - ~100 bytes per log line (JSON)
  - ~200 bytes per log line (console)

Log Level Impact:
  - Debug: High volume, use in development only
  - Info: Moderate volume, suitable for production
  - Warn/Error: Low volume, minimal impact
  - Recommendation: Info level in production

# Troubleshooting

Common Issues:

No Log Output:
  - Symptom: No logs appearing
  - Check: log.Init() called before logging
  - Check: Log level set appropriately (Debug < Info < Warn < Error)
  - Solution: Initialize logger in main() before any logging

Excessive Log Volume:
  - Symptom: Disk space fills quickly
  - Cause: Debug level in production
  - Solution: Use Info level in production, rotate logs externally

Missing Context Fields:
  - Symptom: Logs missing component or id fields
  - Cause: Using global Logger instead of a context logger
  - Solution: Use WithComponent/WithActorID/WithChannelID/WithConnID

Log Parsing Fails:
  - Symptom: Cannot parse JSON logs
  - Cause: Invalid JSON in message field
  - Solution: Use .Str() instead of string interpolation

# Log Rotation

The runtime doesn't include built-in log rotation. Use external tools:

Logrotate (Linux):
	# /etc/logrotate.d/theaterd
	/var/log/theaterd/*.log {
	    daily
	    rotate 7
	    compress
	    delaycompress
	    missingok
	    notifempty
	    copytruncate
	}

Systemd Journal:
	# Automatic rotation by systemd
	journalctl -u theaterd -f

Docker/Kubernetes:
	# Use container runtime log drivers
	# JSON logs to stdout (already implemented)

# Security

Log Content:
  - Never log secret values (pkg/security's SecretStore data)
  - Redact tokens and certificate private keys
  - Review logs before sharing externally

Log Injection:
  - Use structured logging (prevents injection)
  - Never concatenate user input into log messages
  - Use typed fields (.Str, .Int) for user-supplied data

# See Also

  - pkg/security - what this package's logs must never include
  - Zerolog documentation: https://github.com/rs/zerolog
  - Structured logging: https://www.thoughtworks.com/radar/techniques/structured-logging
*/
package log
