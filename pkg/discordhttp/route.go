package discordhttp

import (
	"regexp"
	"strconv"
	"strings"
)

// snowflakeLike matches a bare numeric path segment. Discord snowflakes are
// always decimal digit strings long enough not to collide with small
// literal path segments ("v10", "a", ...).
var snowflakeLike = regexp.MustCompile(`^[0-9]{15,25}$`)

// KeyFor computes the RouteKey for a method and a path whose segments are
// either literal route words (e.g. "channels", "messages") or concrete
// values (snowflake ids, webhook tokens). majorValues supplies the
// already-known major parameter values keyed by name, e.g.
//
//	KeyFor("GET", "/channels/123/messages/456", map[MajorParam]string{
//		MajorChannel: "123",
//	})
//
// Non-major numeric segments collapse to the literal placeholder "{id}" so
// that two requests differing only in, say, message_id share a RouteKey.
// Major parameter segments remain concrete because Discord buckets are
// scoped to them.
func KeyFor(method, path string, majorValues map[MajorParam]string) RouteKey {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	majorSet := make(map[string]struct{}, len(majorValues))
	for _, v := range majorValues {
		// A combined value such as WebhookMajor's "id/token" spans two
		// path segments; each of them stays concrete.
		for _, part := range strings.Split(v, "/") {
			if part != "" {
				majorSet[part] = struct{}{}
			}
		}
	}
	out := make([]string, len(segments))
	for i, seg := range segments {
		if seg == "" {
			out[i] = seg
			continue
		}
		if _, isMajor := majorSet[seg]; isMajor {
			out[i] = seg
			continue
		}
		if snowflakeLike.MatchString(seg) {
			out[i] = "{id}"
			continue
		}
		out[i] = seg
	}
	return RouteKey{
		Method:       strings.ToUpper(method),
		PathTemplate: "/" + strings.Join(out, "/"),
		MajorValues:  encodeMajorValues(majorValues),
	}
}

// WebhookMajor builds the combined webhook_id+token major value, since
// Discord scopes webhook-route buckets to the pair rather than the id
// alone.
func WebhookMajor(id, token string) string {
	return id + "/" + token
}

func encodeMajorValues(majorValues map[MajorParam]string) string {
	if len(majorValues) == 0 {
		return ""
	}
	// Deterministic ordering: iterate the fixed major parameter list
	// rather than the map, so the same values always produce the same
	// string regardless of map iteration order.
	order := []MajorParam{MajorGuild, MajorChannel, MajorWebhook}
	var b strings.Builder
	for _, p := range order {
		v, ok := majorValues[p]
		if !ok || v == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(';')
		}
		b.WriteString(string(p))
		b.WriteByte('=')
		b.WriteString(v)
	}
	return b.String()
}

// isSnowflake reports whether s looks like a Discord snowflake id: a
// snowflake-length digit string that also fits in a uint64.
func isSnowflake(s string) bool {
	if !snowflakeLike.MatchString(s) {
		return false
	}
	_, err := strconv.ParseUint(s, 10, 64)
	return err == nil
}
