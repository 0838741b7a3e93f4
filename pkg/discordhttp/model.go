package discordhttp

import (
	"net/http"
	"time"

	"github.com/google/uuid"
)

// MajorParam names a path parameter that scopes a Discord rate-limit bucket.
type MajorParam string

// The major parameter set Discord documents as bucket-scoping. This is the
// single place Route Identity consults it; nothing else in this package may
// hardcode major parameter names.
const (
	MajorGuild   MajorParam = "guild_id"
	MajorChannel MajorParam = "channel_id"
	MajorWebhook MajorParam = "webhook_id"
)

// RouteKey is a request's client-side identity before its server-assigned
// bucket is known. Two requests collapse to the same RouteKey when they
// share a method, path template, and major parameter values.
type RouteKey struct {
	Method       string
	PathTemplate string
	MajorValues  string
}

func (k RouteKey) String() string {
	if k.MajorValues == "" {
		return k.Method + " " + k.PathTemplate
	}
	return k.Method + " " + k.PathTemplate + " [" + k.MajorValues + "]"
}

// BucketID is the opaque string Discord returns in X-RateLimit-Bucket.
type BucketID string

// ResponseParser decodes a successful response body into the value a caller
// expects. It receives the raw body (possibly empty, for 204 responses) and
// returns the decoded value or an error if decoding failed.
type ResponseParser func(body []byte) (any, error)

// Request is one logical REST call submitted to the Pipeline.
type Request struct {
	// Route identifies the rate-limit scope of this call.
	Route RouteKey
	// ID distinguishes this logical invocation from others; retries of the
	// same call preserve it.
	ID uuid.UUID
	// Method and URL are what is actually sent; Route is derived from them
	// by the caller (see KeyFor) but kept separate so Route can collapse ids
	// that URL must keep concrete.
	Method string
	URL    string
	// Body is the optional JSON (or pre-encoded multipart) request body.
	Body []byte
	// ContentType overrides "application/json" when Body is not JSON.
	ContentType string
	// ExtraHeaders are merged into the outgoing request, after the
	// pipeline's own Authorization/User-Agent/precision headers.
	ExtraHeaders http.Header
	// Parser decodes a successful response body. A nil Parser means the
	// caller does not want the body decoded; Answer.Data is nil.
	Parser ResponseParser
	// Tag is returned verbatim in the Answer; the pipeline never inspects
	// it.
	Tag any
	// SkipAuth omits the Authorization header entirely. Webhook endpoints
	// authenticate via the token embedded in their URL, not the bot token.
	SkipAuth bool

	attempt int
}

// NewRequest builds a Request with a fresh ID.
func NewRequest(route RouteKey, method, url string) Request {
	return Request{
		Route:  route,
		ID:     uuid.New(),
		Method: method,
		URL:    url,
	}
}

// RatelimitInfo is the rate-limit state extracted from a response, whether
// the response was a success or a 429.
type RatelimitInfo struct {
	BucketID   BucketID
	Limit      int64
	Remaining  int64
	ResetAt    time.Time
	Global     bool
	GlobalTTL  time.Duration
	BucketSeen bool
}

// Answer is the outcome of one submitted Request. Exactly one of the
// Kind-specific fields is meaningful; see Kind.
type Answer struct {
	Kind       AnswerKind
	Route      RouteKey
	ID         uuid.UUID
	Tag        any
	Data       any
	Ratelimit  RatelimitInfo
	Global     bool
	Err        error
}

// AnswerKind discriminates the four Answer shapes the pipeline can produce.
type AnswerKind int

const (
	// AnswerResponse means the request got a 2xx/204 and Data was decoded
	// successfully (Data is nil when the request had no Parser).
	AnswerResponse AnswerKind = iota
	// AnswerRatelimited means the server answered 429 despite local
	// admission.
	AnswerRatelimited
	// AnswerError means a network failure, a non-2xx/non-429 status, or a
	// decode failure occurred. See Err for the cause.
	AnswerError
	// AnswerDropped means the Limiter predicted a wait longer than the
	// pipeline's MaxAllowedWait and refused admission.
	AnswerDropped
)

func (k AnswerKind) String() string {
	switch k {
	case AnswerResponse:
		return "Response"
	case AnswerRatelimited:
		return "Ratelimited"
	case AnswerError:
		return "Error"
	case AnswerDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}
