// Package metrics provides services for querying and aggregating metrics data.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/api"
	v1 "github.com/prometheus/client_golang/api/prometheus/v1"
	"github.com/prometheus/common/model"
)

// AnalysisUsage represents aggregated LLM usage for one analysis.
type AnalysisUsage struct {
	AnalysisID       string `json:"analysis_id"`
	PromptTokens     int64  `json:"prompt_tokens"`
	CompletionTokens int64  `json:"completion_tokens"`
	TotalTokens      int64  `json:"total_tokens"`
	Requests         int64  `json:"requests"`
}

// QueryService provides methods to query usage metrics from Prometheus.
type QueryService struct {
	client   api.Client
	queryAPI v1.API
}

// NewQueryService creates a new metrics query service.
func NewQueryService(prometheusURL string) (*QueryService, error) {
	client, err := api.NewClient(api.Config{
		Address: prometheusURL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Prometheus client: %w", err)
	}

	return &QueryService{
		client:   client,
		queryAPI: v1.NewAPI(client),
	}, nil
}

// GetAnalysisUsage retrieves aggregated token and request counts for a
// specific analysis, summed across all agents and phases.
func (q *QueryService) GetAnalysisUsage(ctx context.Context, analysisID string) (*AnalysisUsage, error) {
	usage := &AnalysisUsage{
		AnalysisID: analysisID,
	}

	promptQuery := fmt.Sprintf(`sum(llm_tokens_total{analysis_id=%q, type="prompt"})`, analysisID)
	promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query prompt tokens: %w", err)
	}
	usage.PromptTokens = scalarValue(promptResult)

	completionQuery := fmt.Sprintf(`sum(llm_tokens_total{analysis_id=%q, type="completion"})`, analysisID)
	completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query completion tokens: %w", err)
	}
	usage.CompletionTokens = scalarValue(completionResult)

	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

	requestsQuery := fmt.Sprintf(`sum(llm_requests_total{analysis_id=%q})`, analysisID)
	requestsResult, _, err := q.queryAPI.Query(ctx, requestsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query request count: %w", err)
	}
	usage.Requests = scalarValue(requestsResult)

	return usage, nil
}

// GetAnalysisUsageByModel retrieves usage broken down by model for a specific
// analysis, showing which capability models did the work.
func (q *QueryService) GetAnalysisUsageByModel(ctx context.Context, analysisID string) (map[string]*AnalysisUsage, error) {
	result := make(map[string]*AnalysisUsage)

	modelsQuery := fmt.Sprintf(`group by (model) (llm_tokens_total{analysis_id=%q})`, analysisID)
	modelsResult, _, err := q.queryAPI.Query(ctx, modelsQuery, time.Now())
	if err != nil {
		return nil, fmt.Errorf("failed to query models: %w", err)
	}

	var models []string
	if vector, ok := modelsResult.(model.Vector); ok {
		for _, sample := range vector {
			if modelName, ok := sample.Metric["model"]; ok {
				models = append(models, string(modelName))
			}
		}
	}

	for _, modelName := range models {
		usage := &AnalysisUsage{
			AnalysisID: analysisID,
		}

		promptQuery := fmt.Sprintf(`sum(llm_tokens_total{analysis_id=%q, model=%q, type="prompt"})`, analysisID, modelName)
		promptResult, _, err := q.queryAPI.Query(ctx, promptQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query prompt tokens for model %s: %w", modelName, err)
		}
		usage.PromptTokens = scalarValue(promptResult)

		completionQuery := fmt.Sprintf(`sum(llm_tokens_total{analysis_id=%q, model=%q, type="completion"})`, analysisID, modelName)
		completionResult, _, err := q.queryAPI.Query(ctx, completionQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query completion tokens for model %s: %w", modelName, err)
		}
		usage.CompletionTokens = scalarValue(completionResult)

		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens

		requestsQuery := fmt.Sprintf(`sum(llm_requests_total{analysis_id=%q, model=%q})`, analysisID, modelName)
		requestsResult, _, err := q.queryAPI.Query(ctx, requestsQuery, time.Now())
		if err != nil {
			return nil, fmt.Errorf("failed to query request count for model %s: %w", modelName, err)
		}
		usage.Requests = scalarValue(requestsResult)

		result[modelName] = usage
	}

	return result, nil
}

// scalarValue extracts the single sample a sum() query yields, or zero when
// no series matched.
func scalarValue(value model.Value) int64 {
	if vector, ok := value.(model.Vector); ok && len(vector) > 0 {
		return int64(vector[0].Value)
	}
	return 0
}
