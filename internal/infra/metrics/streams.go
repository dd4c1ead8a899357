package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(activeStreams, streamFramesTotal) }

var activeStreams = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Name: "dispatch_active_streams",
		Help: "Currently open SSE streams.",
	},
)

var streamFramesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "dispatch_stream_frames_total",
		Help: "SSE frames written, labeled by kind (role/delta/final/ping).",
	},
	[]string{"kind"},
)

func IncActiveStreams() { activeStreams.Inc() }
func DecActiveStreams() { activeStreams.Dec() }

func IncStreamFrame(kind string) {
	streamFramesTotal.WithLabelValues(norm(kind)).Inc()
}
