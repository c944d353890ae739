// Package metrics exposes the Prometheus instruments for the call harness.
package metrics

import (
	"strings"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveCalls = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dialcheck_active_calls",
		Help: "Number of calls currently streaming.",
	})

	CallsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialcheck_calls_started_total",
		Help: "Total calls that reached the streaming state.",
	})

	CallsStopped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcheck_calls_stopped_total",
		Help: "Total calls stopped, by reason class.",
	}, []string{"reason"})

	FramesIn = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialcheck_media_frames_in_total",
		Help: "Inbound telephony media frames accepted.",
	})

	FramesOut = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialcheck_media_frames_out_total",
		Help: "Outbound synthesized media frames written.",
	})

	// QueueDepth is evaluated at scrape time so concurrent calls sum
	// instead of overwriting each other.
	QueueDepth = promauto.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "dialcheck_audio_queue_depth",
		Help: "Chunks waiting on the transport drain loops, summed over calls.",
	}, func() float64 {
		if fn, ok := queueDepthFn.Load().(func() float64); ok {
			return fn()
		}
		return 0
	})

	queueDepthFn atomic.Value

	SilentFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dialcheck_silent_frames_dropped_total",
		Help: "Frames dropped by the silence gate instead of being sent upstream.",
	})

	ModerationVerdicts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dialcheck_moderation_verdicts_total",
		Help: "Moderation outcomes, by verdict.",
	}, []string{"verdict"})
)

// SetQueueDepthSource installs the function sampled on each scrape of
// QueueDepth. The caller sums its live calls inside fn.
func SetQueueDepthSource(fn func() float64) {
	queueDepthFn.Store(fn)
}

// StopReason buckets a free-form termination reason into a label value.
func StopReason(reason string) string {
	switch {
	case reason == "":
		return "manual"
	case strings.Contains(reason, "turn limit"):
		return "turn_limit"
	case strings.Contains(reason, "no decision"):
		return "fail_closed"
	default:
		return "moderated"
	}
}
