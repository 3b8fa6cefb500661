// Package metrics defines the Prometheus collectors fed by the compute backends.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DeviceMemoryBytes = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "born_device_memory_bytes",
		Help: "Bytes currently allocated in device buffers",
	}, []string{"device"})

	DeviceBuffersActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "born_device_buffers_active",
		Help: "Number of live device buffers",
	}, []string{"device"})

	DeviceAllocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_device_allocations_total",
		Help: "Total device buffer allocations by usage",
	}, []string{"device", "usage"})

	DeviceAllocationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_device_allocation_failures_total",
		Help: "Allocations rejected for exceeding device limits",
	}, []string{"device"})

	DeviceSubmissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_device_submissions_total",
		Help: "Command submissions that were waited on",
	}, []string{"device"})

	ReadbackDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "born_readback_duration_seconds",
		Help:    "Duration of device to host transfers",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	}, []string{"device"})

	ReadbackFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_readback_failures_total",
		Help: "Failed device to host transfers by reason",
	}, []string{"device", "reason"})

	UnimplementedOps = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "born_unimplemented_ops_total",
		Help: "Operations requested from a backend that does not implement them",
	}, []string{"backend", "op"})
)

// ObserveReadback records a successful read-back that started at start.
func ObserveReadback(device string, start time.Time) {
	ReadbackDuration.WithLabelValues(device).Observe(time.Since(start).Seconds())
}

// Forget drops every series labeled with device. Called when a device is released.
func Forget(device string) {
	labels := prometheus.Labels{"device": device}
	DeviceMemoryBytes.DeletePartialMatch(labels)
	DeviceBuffersActive.DeletePartialMatch(labels)
	DeviceAllocations.DeletePartialMatch(labels)
	DeviceAllocationFailures.DeletePartialMatch(labels)
	DeviceSubmissions.DeletePartialMatch(labels)
	ReadbackDuration.DeletePartialMatch(labels)
	ReadbackFailures.DeletePartialMatch(labels)
}
