// Package metrics exports capture statistics in Prometheus format. Counters
// are fed from the event bus so the capture loop never blocks on them.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smazurov/framegrab/internal/events"
	"github.com/smazurov/framegrab/internal/logging"
)

const namespace = "framegrab"

// Metrics holds the capture collectors and the registry they live in.
type Metrics struct {
	registry *prometheus.Registry

	framesCaptured *prometheus.CounterVec
	bytesCaptured  *prometheus.CounterVec
	framesDropped  *prometheus.CounterVec
	timeouts       *prometheus.CounterVec
	lastSequence   *prometheus.GaugeVec
	streaming      *prometheus.GaugeVec
	buffers        *prometheus.GaugeVec
}

// New creates the collectors on a fresh registry, together with the Go
// runtime and process collectors.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		framesCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "frames_total",
			Help:      "Frames dequeued and handed to the sink",
		}, []string{"device"}),
		bytesCaptured: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "bytes_total",
			Help:      "Payload bytes of captured frames",
		}, []string{"device"}),
		framesDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sink",
			Name:      "errors_total",
			Help:      "Frames the sink failed to consume",
		}, []string{"device"}),
		timeouts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "timeouts_total",
			Help:      "Readiness waits that expired without a frame",
		}, []string{"device"}),
		lastSequence: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "capture",
			Name:      "last_sequence",
			Help:      "Driver sequence number of the latest frame",
		}, []string{"device"}),
		streaming: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "streaming",
			Help:      "1 while the device is streaming",
		}, []string{"device"}),
		buffers: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "buffers",
			Help:      "Mapped buffers granted by the driver",
		}, []string{"device"}),
	}
}

// Registry returns the registry holding every framegrab collector.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFrame records a captured frame.
func (m *Metrics) ObserveFrame(e events.FrameCapturedEvent) {
	m.framesCaptured.WithLabelValues(e.DevicePath).Inc()
	m.bytesCaptured.WithLabelValues(e.DevicePath).Add(float64(e.Bytes))
	m.lastSequence.WithLabelValues(e.DevicePath).Set(float64(e.Sequence))
}

// ObserveDrop records a frame rejected by the sink.
func (m *Metrics) ObserveDrop(e events.FrameDroppedEvent) {
	m.framesDropped.WithLabelValues(e.DevicePath).Inc()
}

// ObserveTimeout records an expired readiness wait.
func (m *Metrics) ObserveTimeout(e events.CaptureTimeoutEvent) {
	m.timeouts.WithLabelValues(e.DevicePath).Inc()
}

// ObserveState records a session transition.
func (m *Metrics) ObserveState(e events.SessionStateEvent) {
	switch e.State {
	case events.StateStreaming:
		m.streaming.WithLabelValues(e.DevicePath).Set(1)
		m.buffers.WithLabelValues(e.DevicePath).Set(float64(e.Buffers))
	case events.StateStopped, events.StateFailed:
		m.streaming.WithLabelValues(e.DevicePath).Set(0)
	}
}

// Attach subscribes the collectors to bus. The returned function
// unsubscribes them.
func (m *Metrics) Attach(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(m.ObserveFrame),
		bus.Subscribe(m.ObserveDrop),
		bus.Subscribe(m.ObserveTimeout),
		bus.Subscribe(m.ObserveState),
	}
	return func() {
		for _, unsub := range unsubs {
			unsub()
		}
	}
}

// Handler returns the Prometheus metrics HTTP handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	logger := logging.GetLogger("metrics")

	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Metrics server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}
