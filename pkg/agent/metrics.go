package agent

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Usage counters for capability calls. Token counts are estimated with the
// shared tokenizer so totals stay comparable across providers. The
// analysis_id label lets the usage endpoint aggregate per analysis.
//
//nolint:gochecknoglobals // Prometheus metrics are package-level by convention
var (
	llmTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_tokens_total",
			Help: "Estimated LLM tokens by analysis, model, and type (prompt or completion)",
		},
		[]string{"analysis_id", "model", "type"},
	)
	llmRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "llm_requests_total",
			Help: "LLM completion requests by analysis and model",
		},
		[]string{"analysis_id", "model"},
	)
)

func recordUsage(analysisID int64, model string, promptTokens, completionTokens int) {
	id := strconv.FormatInt(analysisID, 10)
	llmTokensTotal.WithLabelValues(id, model, "prompt").Add(float64(promptTokens))
	llmTokensTotal.WithLabelValues(id, model, "completion").Add(float64(completionTokens))
	llmRequestsTotal.WithLabelValues(id, model).Inc()
}
