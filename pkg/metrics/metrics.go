// Copyright (c) 2025 Jeremy Hahn
// Copyright (c) 2025 Automate The Things, LLC
//
// This file is part of go-konnektor.
//
// go-konnektor is dual-licensed:
//
// 1. GNU Affero General Public License v3.0 (AGPL-3.0)
//    See LICENSE file or visit https://www.gnu.org/licenses/agpl-3.0.html
//
// 2. Commercial License
//    Contact licensing@automatethethings.com for commercial licensing options.

// Package metrics provides Prometheus instrumentation for connector calls,
// authentication attempts and the local API.
package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the Prometheus namespace for all konnektor metrics
	Namespace = "konnektor"

	// Label names
	LabelOperation  = "operation"
	LabelStatus     = "status"
	LabelFaultCode  = "fault_code"
	LabelCardType   = "card_type"
	LabelCode       = "code"
	LabelMethod     = "method"
	LabelStatusCode = "status_code"

	// Status values
	StatusSuccess = "success"
	StatusError   = "error"
	StatusFault   = "fault"

	// Operation names
	OpDiscovery            = "discovery"
	OpGetCardTerminals     = "GetCardTerminals"
	OpGetCards             = "GetCards"
	OpGetPinStatus         = "GetPinStatus"
	OpVerifyPin            = "VerifyPin"
	OpReadCardCertificate  = "ReadCardCertificate"
	OpExternalAuthenticate = "ExternalAuthenticate"
)

var (
	// ConnectorRequestsTotal counts connector calls by operation and status.
	ConnectorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connector",
			Name:      "requests_total",
			Help:      "Total number of connector requests by operation and status",
		},
		[]string{LabelOperation, LabelStatus},
	)

	// ConnectorRequestDuration tracks connector call latency. VerifyPin
	// includes the time the user spends at the terminal.
	ConnectorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "connector",
			Name:      "request_duration_seconds",
			Help:      "Duration of connector requests in seconds",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{LabelOperation},
	)

	// ConnectorFaultsTotal counts SOAP faults by operation and connector fault code.
	ConnectorFaultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "connector",
			Name:      "faults_total",
			Help:      "Total number of connector faults by operation and fault code",
		},
		[]string{LabelOperation, LabelFaultCode},
	)

	// AuthenticationsTotal counts finished attempts by card type and result
	// code ("OK" on success).
	AuthenticationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "authentications_total",
			Help:      "Total number of authentication attempts by card type and result code",
		},
		[]string{LabelCardType, LabelCode},
	)

	// AuthenticationDuration tracks end to end attempt latency.
	AuthenticationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Name:      "authentication_duration_seconds",
			Help:      "Duration of authentication attempts in seconds",
			Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{LabelCardType},
	)

	// SignatureFallbacksTotal counts ECC to RSA fallbacks.
	SignatureFallbacksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "signature_fallbacks_total",
			Help:      "Total number of ECC to RSA signature fallbacks by card type",
		},
		[]string{LabelCardType},
	)

	// DiscoveryFetchesTotal counts connector.sds downloads.
	DiscoveryFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Name:      "discovery_fetches_total",
			Help:      "Total number of service directory fetches by status",
		},
		[]string{LabelStatus},
	)

	// CardSessions is 1 while a card session for the card type is stored.
	CardSessions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "card_sessions",
			Help:      "Whether a card session is stored for the card type",
		},
		[]string{LabelCardType},
	)

	// QueueDepth is the number of authentication requests waiting.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "queue_depth",
			Help:      "Number of queued authentication requests",
		},
	)

	// HTTPRequestsTotal tracks the total number of HTTP requests by method and status code.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by method and status code",
		},
		[]string{LabelMethod, LabelStatusCode},
	)

	// HTTPRequestDuration tracks the duration of HTTP requests in seconds.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{LabelMethod},
	)

	// Goroutines tracks the current number of goroutines.
	Goroutines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "goroutines",
			Help:      "Current number of goroutines",
		},
	)

	// MemoryAllocBytes tracks the current bytes of allocated heap objects.
	MemoryAllocBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "memory_alloc_bytes",
			Help:      "Current bytes of allocated heap objects",
		},
	)

	// Uptime tracks seconds since the resource collector started.
	Uptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: Namespace,
			Name:      "uptime_seconds",
			Help:      "Uptime in seconds since startup",
		},
	)

	enabled atomic.Bool
)

func init() {
	enabled.Store(true)
}

// RecordConnectorRequest records one connector call.
func RecordConnectorRequest(operation, status string, duration float64) {
	if !enabled.Load() {
		return
	}
	ConnectorRequestsTotal.WithLabelValues(operation, status).Inc()
	ConnectorRequestDuration.WithLabelValues(operation).Observe(duration)
}

// RecordFault records a connector fault code for an operation.
func RecordFault(operation, faultCode string) {
	if !enabled.Load() {
		return
	}
	if faultCode == "" {
		faultCode = "unknown"
	}
	ConnectorFaultsTotal.WithLabelValues(operation, faultCode).Inc()
}

// RecordAuthentication records a finished attempt. code is "OK" on success
// or the application error code.
func RecordAuthentication(cardType, code string, duration float64) {
	if !enabled.Load() {
		return
	}
	AuthenticationsTotal.WithLabelValues(cardType, code).Inc()
	AuthenticationDuration.WithLabelValues(cardType).Observe(duration)
}

// RecordSignatureFallback records a switch from ECC to RSA.
func RecordSignatureFallback(cardType string) {
	if !enabled.Load() {
		return
	}
	SignatureFallbacksTotal.WithLabelValues(cardType).Inc()
}

// RecordDiscovery records a service directory fetch.
func RecordDiscovery(status string) {
	if !enabled.Load() {
		return
	}
	DiscoveryFetchesTotal.WithLabelValues(status).Inc()
}

// SetCardSession marks whether a session for cardType is stored.
func SetCardSession(cardType string, present bool) {
	if !enabled.Load() {
		return
	}
	value := 0.0
	if present {
		value = 1.0
	}
	CardSessions.WithLabelValues(cardType).Set(value)
}

// SetQueueDepth sets the number of waiting authentication requests.
func SetQueueDepth(n int) {
	if !enabled.Load() {
		return
	}
	QueueDepth.Set(float64(n))
}

// RecordHTTPRequest records an HTTP request with its duration and status.
func RecordHTTPRequest(method, statusCode string, duration float64) {
	if !enabled.Load() {
		return
	}
	HTTPRequestsTotal.WithLabelValues(method, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method).Observe(duration)
}

// Enable enables metrics collection.
func Enable() {
	enabled.Store(true)
}

// Disable disables metrics collection.
func Disable() {
	enabled.Store(false)
}

// IsEnabled returns whether metrics collection is currently enabled.
func IsEnabled() bool {
	return enabled.Load()
}
