package discordhttp

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// parseResponse classifies an HTTP response for one Request and produces
// the Answer the caller will receive, plus the RatelimitInfo the Limiter
// needs fed back (via update_ratelimits) regardless of the answer's kind.
//
// httpErr, when non-nil, means the send itself failed (network/timeout)
// and resp is nil; in that case there is no rate-limit info to extract.
func parseResponse(req Request, resp *http.Response, httpErr error, relativeTime bool, log *slog.Logger) (Answer, RatelimitInfo, bool) {
	base := Answer{Route: req.Route, ID: req.ID, Tag: req.Tag}

	if httpErr != nil {
		return withError(base, classifyTransportError(httpErr)), RatelimitInfo{}, false
	}
	defer resp.Body.Close()

	info, hasBucket := extractRatelimitInfo(resp.Header, relativeTime, time.Now())

	if resp.StatusCode == http.StatusTooManyRequests {
		body, _ := io.ReadAll(resp.Body) // discarded per spec: 429 body is not parsed
		_ = body
		base.Kind = AnswerRatelimited
		base.Ratelimit = info
		base.Global = info.Global
		if log != nil {
			log.Warn("rate limited by discord", "route", req.Route.String(), "global", info.Global, "reset_at", info.ResetAt)
		}
		return base, info, hasBucket
	}

	bodyBytes, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return withError(base, &NetworkError{Err: readErr}), info, hasBucket
	}

	switch {
	case resp.StatusCode == http.StatusNoContent:
		if req.Parser == nil {
			base.Kind = AnswerResponse
			base.Ratelimit = info
			return base, info, hasBucket
		}
		data, err := req.Parser(nil)
		if err != nil {
			return withError(base, ErrUnexpectedEmpty), info, hasBucket
		}
		base.Kind = AnswerResponse
		base.Data = data
		base.Ratelimit = info
		return base, info, hasBucket

	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if req.Parser == nil {
			base.Kind = AnswerResponse
			base.Ratelimit = info
			return base, info, hasBucket
		}
		data, err := req.Parser(bodyBytes)
		if err != nil {
			return withError(base, &ParseError{Message: "decoding response body", Cause: err}), info, hasBucket
		}
		base.Kind = AnswerResponse
		base.Data = data
		base.Ratelimit = info
		return base, info, hasBucket

	default:
		return withError(base, &HTTPStatusError{Status: resp.StatusCode, Body: string(bodyBytes)}), info, hasBucket
	}
}

func withError(base Answer, err error) Answer {
	base.Kind = AnswerError
	base.Err = err
	return base
}

func classifyTransportError(err error) error {
	if err == nil {
		return nil
	}
	if isTimeoutError(err) {
		return ErrTimeout
	}
	return &NetworkError{Err: err}
}

// isTimeoutError reports whether err (typically from an http.Client.Do
// call) represents a deadline/timeout rather than some other network
// failure.
func isTimeoutError(err error) bool {
	type timeoutErr interface{ Timeout() bool }
	te, ok := err.(timeoutErr)
	return ok && te.Timeout()
}

// extractRatelimitInfo reads the X-RateLimit-* family of headers. Header
// lookups go through http.Header.Get, which canonicalizes names, so this
// function does not need to care about casing itself.
func extractRatelimitInfo(h http.Header, preferRelative bool, now time.Time) (RatelimitInfo, bool) {
	var info RatelimitInfo
	info.Limit = parseIntHeader(h.Get("X-RateLimit-Limit"), -1)
	info.Remaining = parseIntHeader(h.Get("X-RateLimit-Remaining"), -1)

	bucket := h.Get("X-RateLimit-Bucket")
	hasBucket := bucket != ""
	if hasBucket {
		info.BucketID = BucketID(bucket)
		info.BucketSeen = true
	}

	resetAfter := h.Get("X-RateLimit-Reset-After")
	resetAbs := h.Get("X-RateLimit-Reset")
	switch {
	case preferRelative && resetAfter != "":
		info.ResetAt = now.Add(parseSecondsFloat(resetAfter))
	case resetAfter != "" && resetAbs == "":
		info.ResetAt = now.Add(parseSecondsFloat(resetAfter))
	case resetAbs != "":
		info.ResetAt = parseEpoch(resetAbs, now)
	case resetAfter != "":
		info.ResetAt = now.Add(parseSecondsFloat(resetAfter))
	}

	if strings.EqualFold(h.Get("X-RateLimit-Global"), "true") {
		info.Global = true
		info.GlobalTTL = info.ResetAt.Sub(now)
		if info.GlobalTTL < 0 {
			info.GlobalTTL = 0
		}
	}
	return info, hasBucket
}

func parseIntHeader(v string, fallback int64) int64 {
	if v == "" {
		return fallback
	}
	// Accept both integer and decimal forms (millisecond-precision
	// remaining/limit values have been observed as floats in the wild).
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return int64(f)
	}
	return fallback
}

func parseSecondsFloat(v string) time.Duration {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0
	}
	return time.Duration(f * float64(time.Second))
}

// parseEpoch parses X-RateLimit-Reset, which may be integer epoch seconds,
// decimal epoch seconds, or (when X-RateLimit-Precision: millisecond was
// sent) epoch milliseconds.
func parseEpoch(v string, now time.Time) time.Time {
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return now
	}
	// Values larger than ~1e12 are almost certainly milliseconds rather
	// than seconds (seconds-since-epoch does not reach 1e12 until the
	// year 33658).
	if f > 1e12 {
		return time.UnixMilli(int64(f))
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * float64(time.Second))
	return time.Unix(sec, nsec)
}
