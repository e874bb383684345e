package generation

import (
	"context"
	"testing"
)

func TestFakeGenerateCyclesImages(t *testing.T) {
	gen := NewFake("http://app:8000")

	urls, err := gen.Generate(context.Background(), Request{Model: "m", Prompt: "p", NumOutputs: 5})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	want := []string{
		"http://app:8000/static/fake.jpg",
		"http://app:8000/static/fake1.jpg",
		"http://app:8000/static/fake2.jpg",
		"http://app:8000/static/fake.jpg",
		"http://app:8000/static/fake1.jpg",
	}
	if len(urls) != len(want) {
		t.Fatalf("got %d urls, want %d", len(urls), len(want))
	}
	for i := range want {
		if urls[i] != want[i] {
			t.Fatalf("urls[%d] = %q, want %q", i, urls[i], want[i])
		}
	}
}

func TestRegistryResolvesProviders(t *testing.T) {
	gen, err := New(Settings{Provider: ProviderFake})
	if err != nil {
		t.Fatalf("New(fake): %v", err)
	}
	if _, ok := gen.(*Fake); !ok {
		t.Fatalf("New(fake) = %T, want *Fake", gen)
	}

	gen, err = New(Settings{Provider: ProviderReplicate, ReplicateAPIToken: "token"})
	if err != nil {
		t.Fatalf("New(replicate): %v", err)
	}
	if _, ok := gen.(*Replicate); !ok {
		t.Fatalf("New(replicate) = %T, want *Replicate", gen)
	}

	if _, err := New(Settings{Provider: "midjourney"}); err == nil {
		t.Fatal("unknown provider should fail at resolution time")
	}
}
