/*
Package metrics provides Prometheus metrics collection and exposition for
theaterd, the Theater actor runtime.

The metrics package defines and registers every Theater metric using the
Prometheus client library, giving observability into actor lifecycle,
supervision outcomes, message routing, channel handshakes, chain growth,
content-store activity, and External Management Surface traffic. Metrics
are exposed via an HTTP endpoint for scraping by Prometheus servers.

# Architecture

	┌──────────────────── METRICS SYSTEM ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │          Prometheus Registry                │          │
	│  │  - Global DefaultRegistry                   │          │
	│  │  - MustRegister at package init             │          │
	│  │  - Automatic Go runtime metrics             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Metric Types                   │          │
	│  │                                              │          │
	│  │  Gauge: Instant values (actors by phase)    │          │
	│  │  Counter: Monotonic increases (restarts)    │          │
	│  │  Histogram: Distributions (spawn latency)   │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │           Metric Categories                 │          │
	│  │                                              │          │
	│  │  Actor: count by phase, spawn/fail, latency │          │
	│  │  Supervisor: restarts by outcome            │          │
	│  │  Router: messages routed, channels, rejects │          │
	│  │  Chain: events appended                     │          │
	│  │  Store: puts, get latency                   │          │
	│  │  Management: requests, duration, conns      │          │
	│  │  Security: secrets held                     │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │          HTTP Metrics Endpoint              │          │
	│  │  - Path: /metrics                           │          │
	│  │  - Format: Prometheus text exposition       │          │
	│  │  - Handler: promhttp.Handler()              │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │         Prometheus Server                   │          │
	│  │  - Scrapes /metrics every 15s               │          │
	│  │  - Stores time series data                  │          │
	│  │  - Provides PromQL query interface          │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

Metric Registry:
  - Global Prometheus DefaultRegistry
  - All metrics registered at package init
  - Automatic collection of Go runtime metrics
  - Thread-safe for concurrent updates

Collector:
  - Periodic sampler over a *supervisor.Supervisor
  - Recomputes ActorsTotal (actor count by phase) every 15s
  - Does NOT own counters: those are incremented inline by the
    packages that observe the underlying event (pkg/actor increments
    ActorsSpawnedTotal/ActorsFailedTotal, pkg/supervisor increments
    RestartsTotal, pkg/router increments MessagesRoutedTotal/
    ChannelsTotal/ChannelsRejectedTotal, pkg/store increments
    StorePutsTotal, pkg/management increments ManagementRequestsTotal)

Gauge Metrics:
  - Instant value that can go up or down
  - Examples: actors by phase, open management connections
  - Operations: Set, Inc, Dec, Add, Sub

Counter Metrics:
  - Monotonically increasing value
  - Examples: actors spawned total, restarts total
  - Operations: Inc, Add (cannot decrease)

Histogram Metrics:
  - Distribution of observed values
  - Buckets for latency percentiles (p50, p95, p99)
  - Examples: actor spawn duration, management request duration
  - Includes: sum, count, buckets

Timer Helper:
  - Convenience wrapper for timing operations
  - Start timer, observe duration to histogram
  - Supports label values for histogram vectors

# Metrics Catalog

Actor Metrics (spec.md §4.5):

theater_actors_total{phase}:
  - Type: Gauge
  - Description: Total actors by phase (Spawning/Running/Stopping/Stopped/Failed)
  - Labels: phase
  - Example: theater_actors_total{phase="Running"} 42

theater_actors_spawned_total:
  - Type: Counter
  - Description: Total actors successfully spawned

theater_actors_failed_total:
  - Type: Counter
  - Description: Total actors that reached the Failed phase

theater_actor_spawn_duration_seconds:
  - Type: Histogram
  - Description: Time to spawn an actor (component load + handler activation + init)

Supervisor Metrics (spec.md §4.7):

theater_restarts_total{outcome}:
  - Type: Counter
  - Description: Total Restart/UpdateComponent calls by outcome
    (restarted, failed)
  - Labels: outcome

Router / Messaging Metrics (spec.md §4.4, §4.6):

theater_messages_routed_total{kind}:
  - Type: Counter
  - Description: Total messages delivered through the router by kind
    (send, request)
  - Labels: kind

theater_channels_total{state}:
  - Type: Gauge
  - Description: Total channels by state (open, closed)
  - Labels: state

theater_channel_open_duration_seconds:
  - Type: Histogram
  - Description: Time for a channel open handshake to resolve (accept/reject)

theater_channels_rejected_total:
  - Type: Counter
  - Description: Total channel open requests rejected by the target actor

Chain Metrics (spec.md §4.3):

theater_chain_events_appended_total:
  - Type: Counter
  - Description: Total events appended across every actor's chain

Content Store Metrics (spec.md §4.2):

theater_store_puts_total:
  - Type: Counter
  - Description: Total content-addressed blobs written to the store

theater_store_get_duration_seconds:
  - Type: Histogram
  - Description: Time to read a blob from the content store

External Management Surface Metrics (spec.md §8):

theater_management_requests_total{op, status}:
  - Type: Counter
  - Description: Total management-surface requests by operation and status
  - Labels: op, status
  - Example: theater_management_requests_total{op="Spawn",status="ok"} 100

theater_management_request_duration_seconds{op}:
  - Type: Histogram
  - Description: Management-surface request duration in seconds by operation
  - Labels: op
  - Buckets: Default Prometheus buckets (0.005 .. 10)

theater_management_connections_total:
  - Type: Gauge
  - Description: Total open External Management Surface connections

Security Metrics:

theater_secrets_total:
  - Type: Gauge
  - Description: Total secrets held in the security database

# Usage

Updating Gauge Metrics:

	import "github.com/cuemby/theater/pkg/metrics"

	// Set absolute value (Collector does this for ActorsTotal)
	metrics.ActorsTotal.WithLabelValues("Running").Set(42)

	// Increment/decrement
	metrics.ManagementConnectionsTotal.Inc()
	metrics.ManagementConnectionsTotal.Dec()

Updating Counter Metrics:

	// Increment by 1
	metrics.ActorsSpawnedTotal.Inc()

	// Add with labels
	metrics.RestartsTotal.WithLabelValues("restarted").Inc()
	metrics.ManagementRequestsTotal.WithLabelValues("Spawn", "ok").Inc()

Recording Histogram Observations:

	// Direct observation
	metrics.ChannelOpenDuration.Observe(0.125) // 125ms

	// Using Timer helper
	timer := metrics.NewTimer()
	// ... spawn actor ...
	timer.ObserveDuration(metrics.ActorSpawnDuration)

Using Timer with Labels:

	timer := metrics.NewTimer()
	// ... handle management request ...
	timer.ObserveDurationVec(metrics.ManagementRequestDuration, "Spawn")

Complete Example:

	package main

	import (
		"net/http"

		"github.com/cuemby/theater/pkg/metrics"
		"github.com/cuemby/theater/pkg/supervisor"
	)

	func main() {
		sv := supervisor.New(deps)

		collector := metrics.NewCollector(sv)
		collector.Start()
		defer collector.Stop()

		metrics.SetVersion("0.1.0")
		metrics.RegisterComponent("supervisor", true, "")
		metrics.RegisterComponent("store", true, "")
		metrics.RegisterComponent("management", true, "")

		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		mux.HandleFunc("/health", metrics.HealthHandler())
		mux.HandleFunc("/ready", metrics.ReadyHandler())
		mux.HandleFunc("/live", metrics.LivenessHandler())
		http.ListenAndServe(":9090", mux)
	}

# Integration Points

This package integrates with:

  - pkg/actor: increments ActorsSpawnedTotal/ActorsFailedTotal, observes ActorSpawnDuration
  - pkg/supervisor: increments RestartsTotal; Collector samples ListActors/GetActorStatus
  - pkg/router: increments MessagesRoutedTotal, ChannelsTotal, ChannelsRejectedTotal,
    observes ChannelOpenDuration
  - pkg/store: increments StorePutsTotal, observes StoreGetDuration
  - pkg/management: increments ManagementRequestsTotal, observes
    ManagementRequestDuration, tracks ManagementConnectionsTotal
  - pkg/security: sets SecretsTotal
  - Prometheus: scrapes /metrics endpoint

# Design Patterns

Package Init Registration:
  - All metrics registered in init() function
  - MustRegister panics on duplicate registration
  - Ensures metrics available before main()
  - No runtime registration needed

Label Discipline:
  - Use WithLabelValues for cardinality-bounded labels (phase, outcome, kind, op, status)
  - Avoid high-cardinality labels (actor IDs, channel IDs, timestamps)
  - Keep label count low (< 5 per metric)

Timer Pattern:
  - Create timer at operation start
  - Call ObserveDuration/ObserveDurationVec when the operation completes
  - Supports both simple and vector histograms

Collector Pattern:
  - Periodic sampler, not an event sink
  - Owns only metrics that must be recomputed from current state
    (ActorsTotal, by walking the supervisor's actor table)
  - Event-driven counters are incremented at the call site that
    observes the event, not polled

Global Metrics:
  - Package-level variables for all metrics
  - Accessible from any Theater package
  - Thread-safe concurrent updates
  - No initialization required by callers

# Performance Characteristics

Metric Update Overhead:
  - Gauge set/inc: ~50ns per operation
  - Counter inc: ~50ns per operation
  - Histogram observe: ~200ns per operation
  - Labels: +100ns per label value
  - Negligible impact on the actor mailbox hot path

Memory Usage:
  - Per metric: ~1KB baseline
  - Per label combination: ~100 bytes
  - Total: well under 1MB for a typical single-process runtime

Scrape Performance:
  - Metrics gathering: ~1-5ms for a full scrape
  - Recommendation: scrape interval >= 15s
  - Concurrent scrapes: safe (read-only)

Cardinality Management:
  - Low cardinality: phase, outcome, kind, status (< 10 values)
  - Medium cardinality: op (one value per management operation)
  - Avoid: actor IDs, channel IDs, timestamps (unbounded)
  - Best practice: aggregate high-cardinality identifiers in logs, not metrics

# Troubleshooting

Missing Metrics:
  - Symptom: metric not appearing in /metrics output
  - Check: metric registered in init() (see metrics.go)
  - Check: MustRegister called (panics if duplicate)
  - Solution: verify the metric variable is exported and init() runs

High Cardinality:
  - Symptom: Prometheus memory usage grows
  - Cause: using actor/channel IDs as labels
  - Solution: remove high-cardinality labels, aggregate differently

Histogram Bucket Mismatch:
  - Symptom: no data in the desired percentile
  - Cause: buckets don't cover the observed value range
  - Solution: customize buckets for the operation's latency range

Stale ActorsTotal Gauge:
  - Symptom: actor counts by phase don't reflect reality
  - Cause: Collector not started, or its 15s interval hasn't elapsed yet
  - Check: Collector.Start() was called at process startup
  - Note: ActorsTotal.Reset() runs before each sample, so a stopped
    Collector leaves the last sampled snapshot in place, not zero

# Monitoring

Prometheus Queries (PromQL):

Actor Health:
  - Total actors: sum(theater_actors_total)
  - Running actors: theater_actors_total{phase="Running"}
  - Failed actors: theater_actors_total{phase="Failed"}
  - Spawn failure rate: rate(theater_actors_failed_total[5m])

Supervision:
  - Restart rate: rate(theater_restarts_total[5m])
  - Restart failure rate: rate(theater_restarts_total{outcome="failed"}[5m])

Router Performance:
  - Message rate: rate(theater_messages_routed_total[1m])
  - Channel rejection rate: rate(theater_channels_rejected_total[5m])
  - p95 channel open latency: histogram_quantile(0.95, theater_channel_open_duration_seconds_bucket)

Management Surface:
  - Request rate: rate(theater_management_requests_total[1m])
  - Error rate: rate(theater_management_requests_total{status="error"}[1m])
  - p95 latency: histogram_quantile(0.95, theater_management_request_duration_seconds_bucket)

# Alerting Rules

Recommended Prometheus alerts:

High Actor Failure Rate:
  - Alert: rate(theater_actors_failed_total[5m]) > 0.1
  - Action: check actor logs (log.WithActorID) for init/spawn errors

Restart Failures:
  - Alert: rate(theater_restarts_total{outcome="failed"}[5m]) > 0
  - Action: inspect supervisor logs for the failing actor's Restart/UpdateComponent call

High Management Latency:
  - Alert: histogram_quantile(0.95, theater_management_request_duration_seconds_bucket) > 1
  - Action: check store and supervisor latency, connection backlog

# See Also

  - Prometheus documentation: https://prometheus.io/docs/
  - Prometheus client library: https://github.com/prometheus/client_golang
  - PromQL tutorial: https://prometheus.io/docs/prometheus/latest/querying/basics/
  - Histogram best practices: https://prometheus.io/docs/practices/histograms/
*/
package metrics
