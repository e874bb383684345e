package generation

import (
	"context"
	"fmt"
	"strings"
)

// Fake returns deterministic artifact URLs without calling any provider. It
// keeps the pipeline fully operational in local and CI environments.
type Fake struct {
	baseURL string
}

var fakeImageFiles = []string{"fake.jpg", "fake1.jpg", "fake2.jpg"}

// NewFake builds a fake generator serving URLs under baseURL.
func NewFake(baseURL string) *Fake {
	baseURL = strings.TrimRight(baseURL, "/")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}
	return &Fake{baseURL: baseURL}
}

// Generate cycles through the bundled static images, one URL per requested
// output.
func (f *Fake) Generate(_ context.Context, req Request) ([]string, error) {
	n := req.NumOutputs
	if n < 0 {
		n = 0
	}
	urls := make([]string, 0, n)
	for i := 0; i < n; i++ {
		urls = append(urls, fmt.Sprintf("%s/static/%s", f.baseURL, fakeImageFiles[i%len(fakeImageFiles)]))
	}
	return urls, nil
}

var _ Generator = (*Fake)(nil)
