package generation

import (
	"fmt"
	"net/http"

	"mediagen/internal/infra"
)

// Settings resolves a concrete Generator at startup. There is no lazily
// constructed global instance; the constructor table is consulted exactly
// once and the result injected into the coordinator.
type Settings struct {
	Provider          Provider
	ReplicateAPIToken string
	ReplicateBaseURL  string
	FakeBaseURL       string
	HTTPClient        *http.Client
	Logger            *infra.Logger
}

var constructors = map[Provider]func(Settings) (Generator, error){
	ProviderReplicate: func(s Settings) (Generator, error) {
		return NewReplicate(ReplicateOptions{
			APIToken:   s.ReplicateAPIToken,
			BaseURL:    s.ReplicateBaseURL,
			HTTPClient: s.HTTPClient,
			Logger:     s.Logger,
		})
	},
	ProviderFake: func(s Settings) (Generator, error) {
		return NewFake(s.FakeBaseURL), nil
	},
}

// New resolves the configured provider into a Generator.
func New(s Settings) (Generator, error) {
	build, ok := constructors[s.Provider]
	if !ok {
		return nil, fmt.Errorf("unknown media provider %q", s.Provider)
	}
	return build(s)
}
