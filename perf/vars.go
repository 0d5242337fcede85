package perf

import (
	"expvar"
	"net/http"

	"github.com/encodeous/metric"
)

var (
	DispatchLatency    = metric.NewHistogram("1m1s")
	PlanDuration       = metric.NewHistogram("1m1s")
	PacketsForwarded   = metric.NewCounter("10s1s")
	PacketsRerouted    = metric.NewCounter("10s1s")
	PacketsDropped     = metric.NewCounter("10s1s")
	HeartbeatsSent     = metric.NewCounter("10s1s")
	HeartbeatsRelayed  = metric.NewCounter("10s1s")
	FailuresDetected   = metric.NewCounter("10s1s")
	NotificationsTaken = metric.NewCounter("10s1s")
)

func init() {
	http.Handle("/debug/metrics", metric.Handler(metric.Exposed))
	expvar.Publish("reflex:PacketsForwarded/s", PacketsForwarded)
	expvar.Publish("reflex:PacketsRerouted/s", PacketsRerouted)
	expvar.Publish("reflex:PacketsDropped/s", PacketsDropped)
	expvar.Publish("reflex:HeartbeatsSent/s", HeartbeatsSent)
	expvar.Publish("reflex:HeartbeatsRelayed/s", HeartbeatsRelayed)
	expvar.Publish("reflex:FailuresDetected/s", FailuresDetected)
	expvar.Publish("reflex:NotificationsTaken/s", NotificationsTaken)
	expvar.Publish("reflex:DispatchLatency (µs)", DispatchLatency)
	expvar.Publish("reflex:PlanDuration (µs)", PlanDuration)
}
