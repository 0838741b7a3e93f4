package discordhttp

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/require"
)

// Scenario 1: successful GET with rate-limit headers populates both the
// Answer and the bucket table.
func TestScenario_SuccessfulGETWithRatelimitHeaders(t *testing.T) {
	p, _ := newMockedPipeline(t)
	url := "https://discord.com/api/v10/channels/100"
	httpmock.RegisterResponder("GET", url, httpmock.NewJsonResponderOrPanic(200, map[string]any{
		"id": "100", "name": "c",
	}).HeaderSet(http.Header{
		"X-Ratelimit-Limit":       []string{"5"},
		"X-Ratelimit-Remaining":   []string{"4"},
		"X-Ratelimit-Reset-After": []string{"1.000"},
		"X-Ratelimit-Bucket":      []string{"B1"},
	}))

	route := KeyFor("GET", "/channels/100", map[MajorParam]string{MajorChannel: "100"})
	req := NewRequest(route, "GET", url)
	req.Parser = jsonParser[map[string]any]()

	ans, err := p.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, AnswerResponse, ans.Kind)
	data := ans.Data.(map[string]any)
	require.Equal(t, "100", data["id"])
	require.Equal(t, "c", data["name"])

	// The answer is delivered without waiting for the Limiter to apply the
	// response's headers; an admission round trip through its command
	// queue orders the reads below after that update.
	_, _, err = p.limiter.admit(context.Background(), NewRequest(KeyFor("GET", "/gateway", nil), "GET", "x"), 0)
	require.NoError(t, err)

	state, ok := p.limiter.table.state(BucketID("B1"))
	require.True(t, ok)
	require.Equal(t, int64(5), state.Limit)
	require.Equal(t, int64(4), state.Remaining)
}

// Scenario 2: depletion then deferred admission. The second request on an
// exhausted bucket must wait for the reset before being admitted.
func TestScenario_DepletionThenDeferredAdmission(t *testing.T) {
	p, _ := newMockedPipeline(t, WithMaxAllowedWait(2*time.Second))
	url := "https://discord.com/api/v10/channels/200/messages"
	route := KeyFor("POST", "/channels/200/messages", map[MajorParam]string{MajorChannel: "200"})

	httpmock.RegisterResponder("POST", url, httpmock.NewStringResponder(200, `{}`).
		HeaderSet(http.Header{
			"X-Ratelimit-Limit":       []string{"1"},
			"X-Ratelimit-Remaining":   []string{"0"},
			"X-Ratelimit-Reset-After": []string{"0.5"},
			"X-Ratelimit-Bucket":      []string{"B2"},
		}))

	req1 := NewRequest(route, "POST", url)
	ans1, err := p.Submit(context.Background(), req1)
	require.NoError(t, err)
	require.Equal(t, AnswerResponse, ans1.Kind)

	req2 := NewRequest(route, "POST", url)
	start := time.Now()
	ans2, err := p.Submit(context.Background(), req2)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, AnswerResponse, ans2.Kind)
	require.GreaterOrEqual(t, elapsed, 450*time.Millisecond, "deferred admission should wait for the bucket reset, within tolerance")
}

// Scenario 3: a global 429 blocks all buckets for the reset window.
func TestScenario_GlobalRatelimitBlocksAllBuckets(t *testing.T) {
	p, _ := newMockedPipeline(t, WithMaxAllowedWait(50*time.Millisecond))
	url1 := "https://discord.com/api/v10/gateway"
	url2 := "https://discord.com/api/v10/users/@me"

	httpmock.RegisterResponder("GET", url1, httpmock.NewStringResponder(429, `{"global":true,"retry_after":2.0}`).
		HeaderSet(http.Header{"X-Ratelimit-Global": []string{"true"}, "X-Ratelimit-Reset-After": []string{"2.0"}}))
	httpmock.RegisterResponder("GET", url2, httpmock.NewStringResponder(200, `{}`))

	req1 := NewRequest(KeyFor("GET", "/gateway", nil), "GET", url1)
	ans1, err := p.Submit(context.Background(), req1)
	require.NoError(t, err)
	require.Equal(t, AnswerRatelimited, ans1.Kind)
	require.True(t, ans1.Global)

	req2 := NewRequest(KeyFor("GET", "/users/@me", nil), "GET", url2)
	ans2, err := p.Submit(context.Background(), req2)
	require.NoError(t, err)
	// max_allowed_wait (50ms) is far shorter than the 2s global block, so
	// the second request must be dropped rather than served immediately.
	require.Equal(t, AnswerDropped, ans2.Kind)
}

// Scenario 4: drop when the predicted wait exceeds the caller's budget.
func TestScenario_DropWhenWaitExceedsBudget(t *testing.T) {
	p, _ := newMockedPipeline(t, WithMaxAllowedWait(2*time.Minute))
	url := "https://discord.com/api/v10/channels/300/messages"
	route := KeyFor("POST", "/channels/300/messages", map[MajorParam]string{MajorChannel: "300"})

	httpmock.RegisterResponder("POST", url, httpmock.NewStringResponder(200, `{}`).
		HeaderSet(http.Header{
			"X-Ratelimit-Limit":       []string{"1"},
			"X-Ratelimit-Remaining":   []string{"0"},
			"X-Ratelimit-Reset-After": []string{"600"}, // 10 minutes
			"X-Ratelimit-Bucket":      []string{"B3"},
		}))

	req1 := NewRequest(route, "POST", url)
	ans1, err := p.Submit(context.Background(), req1)
	require.NoError(t, err)
	require.Equal(t, AnswerResponse, ans1.Kind)

	req2 := NewRequest(route, "POST", url)
	start := time.Now()
	ans2, err := p.Submit(context.Background(), req2)
	elapsed := time.Since(start)
	require.NoError(t, err)
	require.Equal(t, AnswerDropped, ans2.Kind)
	require.Less(t, elapsed, 500*time.Millisecond, "drop decision must be immediate, not wait out the reset")
}

// Scenario 5: the retry loop re-sends on network error up to max_retries,
// succeeding on the third attempt.
func TestScenario_RetryOnNetworkError(t *testing.T) {
	inner, _ := newMockedPipeline(t)
	retrying := NewRetryingPipeline(inner, DefaultRetryPolicy(3))
	retrying.policy.BaseDelay = time.Millisecond // keep the test fast
	retrying.policy.MaxDelay = 10 * time.Millisecond

	url := "https://discord.com/api/v10/gateway"
	calls := 0
	httpmock.RegisterResponder("GET", url, func(*http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return nil, &http.ProtocolError{ErrorString: "connection reset"}
		}
		return httpmock.NewStringResponse(200, `{"url":"wss://gateway.discord.gg"}`), nil
	})

	req := NewRequest(KeyFor("GET", "/gateway", nil), "GET", url)
	ans, err := retrying.Submit(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, AnswerResponse, ans.Kind)
	require.Equal(t, 3, calls)
}

// Scenario 6: two distinct routes that bind to the same server-assigned
// bucket end up sharing that bucket's remaining count.
func TestScenario_BucketBindingAfterProvisionalAdmission(t *testing.T) {
	p, _ := newMockedPipeline(t)
	url1 := "https://discord.com/api/v10/guilds/1/members"
	url2 := "https://discord.com/api/v10/guilds/1/roles"
	route1 := KeyFor("GET", "/guilds/1/members", map[MajorParam]string{MajorGuild: "1"})
	route2 := KeyFor("GET", "/guilds/1/roles", map[MajorParam]string{MajorGuild: "1"})

	respond := httpmock.NewStringResponder(200, `[]`).HeaderSet(http.Header{
		"X-Ratelimit-Limit":     []string{"5"},
		"X-Ratelimit-Remaining": []string{"4"},
		"X-Ratelimit-Bucket":    []string{"BX"},
	})
	httpmock.RegisterResponder("GET", url1, respond)
	httpmock.RegisterResponder("GET", url2, respond)

	_, err := p.Submit(context.Background(), NewRequest(route1, "GET", url1))
	require.NoError(t, err)
	_, err = p.Submit(context.Background(), NewRequest(route2, "GET", url2))
	require.NoError(t, err)

	// The answer is delivered without waiting for the Limiter to apply the
	// response's headers; an admission round trip through its command
	// queue orders the reads below after that update.
	_, _, err = p.limiter.admit(context.Background(), NewRequest(KeyFor("GET", "/gateway", nil), "GET", "x"), 0)
	require.NoError(t, err)

	id1, ok1 := p.limiter.table.routeToBucket[route1]
	id2, ok2 := p.limiter.table.routeToBucket[route2]
	require.True(t, ok1)
	require.True(t, ok2)
	require.Equal(t, BucketID("BX"), id1)
	require.Equal(t, id1, id2)
}
