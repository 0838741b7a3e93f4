// Package discordhttp implements the REST request pipeline of a Discord API
// client: a rate-limit-aware dispatcher that accepts Request values, admits
// or defers them against Discord's per-bucket rate limits, sends them over
// HTTPS, parses the response, and returns a typed Answer.
//
// # Overview
//
// Discord scopes its rate limits to opaque server-assigned "buckets" rather
// than to routes directly. A route's bucket is unknown until the first
// response for it arrives, so this package tracks two layers of identity:
//
//   - RouteKey: a client-side, purely computed identity (method + URI
//     template with major parameters substituted) used as a provisional
//     bucket before the server tells us otherwise.
//   - BucketID: the value of the X-RateLimit-Bucket response header, bound
//     to a RouteKey the first time it is observed.
//
// The Limiter is the single actor that owns this mapping and the remaining
// token counts. Everything else — the ingress buffer, the worker pool that
// sends HTTP requests, and the response parser — talks to it by message,
// never by touching its state directly.
//
// # Core Types
//
// Request carries a RouteKey, an opaque Tag round-tripped to the caller
// unmodified, a ResponseParser for the expected payload, and an ID used to
// correlate retries of the same logical call.
//
// Answer is one of four shapes: Response (2xx, decoded), Ratelimited (429),
// Error (network/parse/protocol failure), or Dropped (the Limiter predicted
// a wait longer than the caller's budget).
//
// # Backends
//
// Pipeline is the only implementation of the request-pipeline contract this
// package ships. Its HTTP transport is swappable via the HTTPDoer interface
// — *http.Client already satisfies it, and tests substitute a stub or an
// httpmock-registered client.
//
// # Concurrency
//
// Pipeline is safe for concurrent use: Submit and Stream may be called from
// multiple goroutines. The Limiter serializes all bucket mutations through
// its own goroutine; the ingress buffer and worker pool are bounded channels.
//
// # Context and Error Policy
//
// Submit accepts a context.Context for cancellation of the caller's wait.
// HTTP sends carry their own bounded http_timeout independent of the
// caller's context. This package never panics on a malformed response; bad
// responses surface as an Error answer.
//
// # Configuration
//
// Pipeline is configured using the functional options pattern:
//
//	cfg, err := discordhttp.NewConfig(
//		discordhttp.WithBufferSize(200),
//		discordhttp.WithParallelism(8),
//		discordhttp.WithMaxAllowedWait(30*time.Second),
//		discordhttp.WithRecorder(myRecorder),
//	)
//	p, err := discordhttp.New(token, discordhttp.DefaultHTTPDoer(cfg.HTTPTimeout), cfg)
//
// A Config can also be loaded from YAML via LoadConfig, for deployments that
// prefer a config file over code.
//
// # Limitations and Notes
//
//   - Bucket state is in-memory only; a process restart starts every bucket
//     at Unknown. There is no persisted or distributed rate-limit state.
//   - The bucket table is bounded (WithMaxBuckets, default 1024) and evicts
//     the least-recently-seen entry when full.
//   - Retries are layered on top of the pipeline and only re-send Error
//     answers classified as retryable; Ratelimited and Dropped answers are
//     never retried by this package.
package discordhttp
