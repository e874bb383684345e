// Package generation adapts external media-generation providers behind a
// single Generator contract. Providers never retry internally; retry is the
// workflow coordinator's responsibility.
package generation

import "context"

// Provider enumerates the configured generation backends.
type Provider string

const (
	ProviderReplicate Provider = "replicate"
	ProviderFake      Provider = "fake"
)

// Request carries the generation parameters of a root job.
type Request struct {
	Model        string
	Prompt       string
	NumOutputs   int
	Seed         *int64
	OutputFormat string
}

// Generator produces an ordered list of artifact URLs for a request. Any
// transport or provider-side failure is returned as *domain.ProviderError.
type Generator interface {
	Generate(ctx context.Context, req Request) ([]string, error)
}
