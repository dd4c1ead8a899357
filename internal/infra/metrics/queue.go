package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() { register(heartbeatsTotal, watchdogReapsTotal, popTimeoutsTotal) }

var heartbeatsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dispatch_heartbeats_total",
		Help: "Total worker heartbeats written to the active-job registry.",
	},
)

var watchdogReapsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dispatch_watchdog_reaps_total",
		Help: "Jobs force-failed by the watchdog for heartbeat staleness.",
	},
)

var popTimeoutsTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Name: "dispatch_queue_pop_timeouts_total",
		Help: "Blocking pops that returned empty; a liveness signal for idle workers.",
	},
)

func IncHeartbeat()    { heartbeatsTotal.Inc() }
func IncWatchdogReap() { watchdogReapsTotal.Inc() }
func IncPopTimeout()   { popTimeoutsTotal.Inc() }
