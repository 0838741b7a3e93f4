package discordhttp

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicy_BackoffRespectsCap(t *testing.T) {
	p := DefaultRetryPolicy(5)
	for attempt := 0; attempt < 10; attempt++ {
		d := p.backoff(attempt)
		if d > p.MaxDelay {
			t.Fatalf("attempt %d backoff %v exceeded cap %v", attempt, d, p.MaxDelay)
		}
		if d < 0 {
			t.Fatalf("attempt %d produced negative backoff %v", attempt, d)
		}
	}
}

func TestRetryPolicy_BackoffGrowsWithAttempt(t *testing.T) {
	p := DefaultRetryPolicy(5)
	// The jittered backoff is random, so assert on the deterministic
	// unjittered ceiling growing rather than on any one sample.
	base0 := p.BaseDelay << 0
	base3 := p.BaseDelay << 3
	if base3 <= base0 {
		t.Fatalf("expected backoff ceiling to grow with attempt: %v vs %v", base0, base3)
	}
}

// TestPipeline_RetryReinjection_PrioritizedOverFreshIngress pins down the
// ordering invariant: a request reinjected via submitRetry is dispatched
// ahead of requests that were already sitting in ingress first.
func TestPipeline_RetryReinjection_PrioritizedOverFreshIngress(t *testing.T) {
	p, _ := newMockedPipeline(t, WithBufferSize(10), WithParallelism(1))

	var mu sync.Mutex
	var order []string
	record := func(tag string) httpmock.Responder {
		return func(*http.Request) (*http.Response, error) {
			mu.Lock()
			order = append(order, tag)
			mu.Unlock()
			return httpmock.NewStringResponse(200, "{}"), nil
		}
	}

	busyURL := "https://discord.com/api/v10/channels/1"
	httpmock.RegisterResponder("GET", busyURL, func(req *http.Request) (*http.Response, error) {
		time.Sleep(50 * time.Millisecond) // keep the single worker busy while fresh/retry requests queue up
		return record("busy")(req)
	})
	freshURL := "https://discord.com/api/v10/gateway"
	httpmock.RegisterResponder("GET", freshURL, record("fresh"))
	retryURL := "https://discord.com/api/v10/users/@me"
	httpmock.RegisterResponder("GET", retryURL, record("retry"))

	in, out := p.Stream()
	busyReq := NewRequest(KeyFor("GET", "/channels/1", map[MajorParam]string{MajorChannel: "1"}), "GET", busyURL)
	in <- busyReq
	time.Sleep(5 * time.Millisecond) // let the worker pick busyReq up and block on it

	fresh1 := NewRequest(KeyFor("GET", "/gateway", nil), "GET", freshURL)
	fresh2 := NewRequest(KeyFor("GET", "/gateway", nil), "GET", freshURL)
	in <- fresh1
	in <- fresh2

	retryReq := NewRequest(KeyFor("GET", "/users/@me", nil), "GET", retryURL)
	retryDone := make(chan struct{})
	go func() {
		_, err := p.submitRetry(context.Background(), retryReq)
		require.NoError(t, err)
		close(retryDone)
	}()
	time.Sleep(5 * time.Millisecond) // let retryReq land on retryIngress before busyReq completes

	for i := 0; i < 3; i++ {
		select {
		case <-out:
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for fresh/busy answers")
		}
	}
	select {
	case <-retryDone:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for retry answer")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"busy", "retry", "fresh", "fresh"}, order)
}
