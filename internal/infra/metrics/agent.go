package metrics

import (
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(agentTokensIn, agentTokensOut, agentCallLatencyMs) }

var agentTokensIn = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_tokens_in",
		Help: "Sum of prompt (input) tokens per provider/model.",
	},
	[]string{"provider", "model"},
)

var agentTokensOut = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "agent_tokens_out",
		Help: "Sum of completion (output) tokens per provider/model.",
	},
	[]string{"provider", "model"},
)

var agentCallLatencyMs = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "agent_call_latency_ms",
		Help:    "Agent call latency distribution in milliseconds.",
		Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
	},
	[]string{"provider", "model", "success"},
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func ObserveAgentCall(provider, model string, tokensIn, tokensOut int, latencyMs int, success bool) {
	lbl := []string{norm(provider), norm(model)}
	agentTokensIn.WithLabelValues(lbl...).Add(float64(tokensIn))
	agentTokensOut.WithLabelValues(lbl...).Add(float64(tokensOut))
	agentCallLatencyMs.WithLabelValues(norm(provider), norm(model), strconv.FormatBool(success)).
		Observe(float64(latencyMs))
}
