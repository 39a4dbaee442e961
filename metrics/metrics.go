// Package metrics holds the process metrics, registered on a private
// registry so tests can create as many sets as they like.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	Registry *prometheus.Registry

	// Meter metrics
	OpenTaps     prometheus.Gauge
	Loudness     *prometheus.GaugeVec
	MeterAttach  *prometheus.CounterVec
	MeterDetach  *prometheus.CounterVec
	DeviceSwitch *prometheus.CounterVec

	// Recording metrics
	Recordings        *prometheus.CounterVec
	RecordingDuration prometheus.Histogram

	// Speech metrics
	SpeechRestarts prometheus.Counter
	SpeechErrors   *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		Registry: reg,
		OpenTaps: f.NewGauge(prometheus.GaugeOpts{
			Name: "micpanel_open_analysis_taps",
			Help: "Current number of analysis taps attached to live streams",
		}),
		Loudness: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "micpanel_loudness_db",
			Help: "Most recent loudness reading per panel",
		}, []string{"panel"}),
		MeterAttach: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micpanel_meter_attach_total",
			Help: "Total number of meter attachments",
		}, []string{"panel"}),
		MeterDetach: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micpanel_meter_detach_total",
			Help: "Total number of meter detachments",
		}, []string{"panel"}),
		DeviceSwitch: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micpanel_device_switch_total",
			Help: "Total number of device selections",
		}, []string{"panel", "kind"}),
		Recordings: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micpanel_recordings_total",
			Help: "Total number of finished recordings",
		}, []string{"panel", "format"}),
		RecordingDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "micpanel_recording_duration_seconds",
			Help:    "Length of finished recordings",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10), // 0.5s to ~4 minutes
		}),
		SpeechRestarts: f.NewCounter(prometheus.CounterOpts{
			Name: "micpanel_speech_restarts_total",
			Help: "Total number of recognizer redials",
		}),
		SpeechErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "micpanel_speech_errors_total",
			Help: "Total number of recognizer errors",
		}, []string{"panel"}),
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.serve(ctx, ln)
}

func (m *Metrics) serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
