package discordhttp

import (
	"bytes"
	"context"
	"net/http"
	"time"
)

// HTTPDoer is the minimal transport contract the pipeline needs: send one
// request, get back one response or an error. *http.Client already
// satisfies this, so production code and httpmock-based tests share the
// same seam without an adapter.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// DefaultHTTPDoer returns an *http.Client configured with the given
// timeout and Discord-friendly connection reuse. Pass the result as the
// HTTPDoer to New.
func DefaultHTTPDoer(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
	}
}

// buildHTTPRequest turns a Request into an *http.Request carrying the
// pipeline's standard headers (Authorization, User-Agent, optional
// millisecond-precision hint) plus the request's own ExtraHeaders.
func buildHTTPRequest(ctx context.Context, req Request, token, userAgent string, millisecondPrecision bool) (*http.Request, error) {
	var body *bytes.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	} else {
		body = bytes.NewReader(nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, body)
	if err != nil {
		return nil, err
	}
	if !req.SkipAuth {
		httpReq.Header.Set("Authorization", token)
	}
	httpReq.Header.Set("User-Agent", userAgent)
	if millisecondPrecision {
		httpReq.Header.Set("X-RateLimit-Precision", "millisecond")
	}
	if req.Body != nil {
		contentType := req.ContentType
		if contentType == "" {
			contentType = "application/json"
		}
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, vs := range req.ExtraHeaders {
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}
	return httpReq, nil
}
