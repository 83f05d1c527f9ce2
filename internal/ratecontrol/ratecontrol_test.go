package ratecontrol

import (
	"context"
	"testing"
	"time"
)

func TestCombineLimits(t *testing.T) {
	a := RateLimit{RPM: 30, TPM: 50000}
	b := RateLimit{RPM: 20, TPM: 0}
	combined := CombineLimits(a, b)
	if combined.RPM != 20 {
		t.Fatalf("expected RPM 20, got %d", combined.RPM)
	}
	if combined.TPM != 50000 {
		t.Fatalf("expected TPM 50000, got %d", combined.TPM)
	}
}

func TestLimitForProviderOverride(t *testing.T) {
	got := LimitForProvider("OpenAI", map[string]RateLimit{"openai": {RPM: 5}})
	if got.RPM != 5 {
		t.Fatalf("expected override RPM 5, got %d", got.RPM)
	}
	if LimitForProvider("tavily", nil).RPM != 60 {
		t.Fatal("expected built-in tavily limit")
	}
	if LimitForProvider("mystery", nil) != builtInProviderLimits["unknown"] {
		t.Fatal("expected unknown fallback")
	}
}

func TestRegistryWaitWithinBurst(t *testing.T) {
	r := NewRegistry(map[string]RateLimit{"openai": {RPM: 600, TPM: 100000}})
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	for i := 0; i < 10; i++ {
		if err := r.Wait(ctx, "openai", 500); err != nil {
			t.Fatalf("unexpected wait error: %v", err)
		}
	}
}

func TestRegistryWaitHonoursContext(t *testing.T) {
	r := NewRegistry(map[string]RateLimit{"slow": {RPM: 1}})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := r.Wait(ctx, "slow", 0); err != nil {
		t.Fatalf("first request should pass: %v", err)
	}
	if err := r.Wait(ctx, "slow", 0); err == nil {
		t.Fatal("second request should be throttled past the deadline")
	}
}

func TestNilRegistryIsUnlimited(t *testing.T) {
	var r *Registry
	if err := r.Wait(context.Background(), "openai", 1000); err != nil {
		t.Fatalf("nil registry should not limit: %v", err)
	}
}

func TestEstimateTokens(t *testing.T) {
	if EstimateTokens("") != 0 {
		t.Fatal("empty text should estimate zero")
	}
	if EstimateTokens("abcdefgh") != 3 {
		t.Fatalf("unexpected estimate %d", EstimateTokens("abcdefgh"))
	}
}
