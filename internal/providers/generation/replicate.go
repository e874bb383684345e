package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

const replicatePollInterval = 2 * time.Second

// ReplicateOptions controls how the Replicate client is configured.
type ReplicateOptions struct {
	APIToken   string
	BaseURL    string
	HTTPClient *http.Client
	Logger     *infra.Logger
}

// Replicate calls the Replicate predictions API. A prediction is created with
// best-effort synchronous completion and polled until it reaches a terminal
// status.
type Replicate struct {
	apiToken   string
	baseURL    string
	httpClient *http.Client
	logger     *infra.Logger
}

// NewReplicate builds a Replicate generator.
func NewReplicate(opts ReplicateOptions) (*Replicate, error) {
	if opts.APIToken == "" {
		return nil, fmt.Errorf("replicate: api token is required")
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.replicate.com/v1"
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 120 * time.Second}
	}
	return &Replicate{
		apiToken:   opts.APIToken,
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     opts.Logger,
	}, nil
}

type replicatePrediction struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Output json.RawMessage `json:"output"`
	Error  string          `json:"error"`
}

// Generate creates a prediction for the model and returns its output URLs in
// provider order.
func (r *Replicate) Generate(ctx context.Context, req Request) ([]string, error) {
	input := map[string]any{
		"prompt":      req.Prompt,
		"num_outputs": req.NumOutputs,
	}
	if req.Seed != nil {
		input["seed"] = *req.Seed
	}
	if req.OutputFormat != "" {
		input["output_format"] = req.OutputFormat
	}

	if r.logger != nil {
		r.logger.Info().Str("model", req.Model).Int("num_outputs", req.NumOutputs).Msg("replicate: creating prediction")
	}

	pred, err := r.createPrediction(ctx, req.Model, input)
	if err != nil {
		return nil, &domain.ProviderError{Provider: string(ProviderReplicate), Err: err}
	}

	pred, err = r.awaitPrediction(ctx, pred)
	if err != nil {
		return nil, &domain.ProviderError{Provider: string(ProviderReplicate), Err: err}
	}

	urls, err := decodeOutputURLs(pred.Output)
	if err != nil {
		return nil, &domain.ProviderError{Provider: string(ProviderReplicate), Err: err}
	}
	return urls, nil
}

func (r *Replicate) createPrediction(ctx context.Context, model string, input map[string]any) (replicatePrediction, error) {
	body, err := json.Marshal(map[string]any{"input": input})
	if err != nil {
		return replicatePrediction{}, fmt.Errorf("marshal input: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s/predictions", r.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return replicatePrediction{}, err
	}
	req.Header.Set("Authorization", "Bearer "+r.apiToken)
	req.Header.Set("Content-Type", "application/json")
	// Hold the request open until the prediction finishes when the provider
	// can manage it; otherwise fall back to polling.
	req.Header.Set("Prefer", "wait")

	return r.doPrediction(req)
}

func (r *Replicate) awaitPrediction(ctx context.Context, pred replicatePrediction) (replicatePrediction, error) {
	for {
		switch pred.Status {
		case "succeeded":
			return pred, nil
		case "failed", "canceled":
			msg := pred.Error
			if msg == "" {
				msg = "prediction " + pred.Status
			}
			return pred, fmt.Errorf("prediction %s: %s", pred.ID, msg)
		}

		select {
		case <-ctx.Done():
			return pred, ctx.Err()
		case <-time.After(replicatePollInterval):
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/predictions/"+pred.ID, nil)
		if err != nil {
			return pred, err
		}
		req.Header.Set("Authorization", "Bearer "+r.apiToken)
		pred, err = r.doPrediction(req)
		if err != nil {
			return pred, err
		}
	}
}

func (r *Replicate) doPrediction(req *http.Request) (replicatePrediction, error) {
	resp, err := r.httpClient.Do(req)
	if err != nil {
		return replicatePrediction{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return replicatePrediction{}, fmt.Errorf("replicate responded %d: %s", resp.StatusCode, strings.TrimSpace(string(payload)))
	}

	var pred replicatePrediction
	if err := json.NewDecoder(resp.Body).Decode(&pred); err != nil {
		return replicatePrediction{}, fmt.Errorf("decode prediction: %w", err)
	}
	return pred, nil
}

// decodeOutputURLs normalizes the prediction output, which Replicate returns
// either as a list of URLs or as a single URL.
func decodeOutputURLs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("prediction returned no output")
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return list, nil
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil {
		return []string{single}, nil
	}
	return nil, fmt.Errorf("unexpected prediction output shape: %s", string(raw))
}

var _ Generator = (*Replicate)(nil)
