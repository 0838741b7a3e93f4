package discordhttp

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RequestSpec describes one Discord REST endpoint: its method, path
// template, and which major parameters scope its rate-limit bucket. The
// catalog functions below build a Request from a RequestSpec plus the
// caller's path arguments and body, the way the route is consulted for
// every call rather than re-derived per call site.
type RequestSpec struct {
	Method       string
	PathTemplate string
	Majors       []MajorParam
}

const apiBase = "https://discord.com/api/v10"

// GetChannel builds a GET /channels/{channel.id} request.
func GetChannel(channelID string) Request {
	spec := RequestSpec{Method: "GET", PathTemplate: "/channels/{channel.id}", Majors: []MajorParam{MajorChannel}}
	path := fmt.Sprintf("/channels/%s", channelID)
	route := KeyFor(spec.Method, path, map[MajorParam]string{MajorChannel: channelID})
	req := NewRequest(route, spec.Method, apiBase+path)
	req.Parser = jsonParser[map[string]any]()
	return req
}

// CreateMessage builds a POST /channels/{channel.id}/messages request
// carrying content as a minimal JSON payload.
func CreateMessage(channelID, content string) (Request, error) {
	spec := RequestSpec{Method: "POST", PathTemplate: "/channels/{channel.id}/messages", Majors: []MajorParam{MajorChannel}}
	path := fmt.Sprintf("/channels/%s/messages", channelID)
	route := KeyFor(spec.Method, path, map[MajorParam]string{MajorChannel: channelID})
	body, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return Request{}, err
	}
	req := NewRequest(route, spec.Method, apiBase+path)
	req.Body = body
	req.ContentType = "application/json"
	req.Parser = jsonParser[map[string]any]()
	return req, nil
}

// ExecuteWebhook builds a POST /webhooks/{webhook.id}/{webhook.token}
// request. Unlike bot-token endpoints, webhook buckets are scoped by id
// AND token together, and the Authorization header is omitted: the token
// embedded in the URL is the credential.
func ExecuteWebhook(webhookID, webhookToken string, payload []byte) Request {
	spec := RequestSpec{Method: "POST", PathTemplate: "/webhooks/{webhook.id}/{webhook.token}", Majors: []MajorParam{MajorWebhook}}
	major := WebhookMajor(webhookID, webhookToken)
	path := fmt.Sprintf("/webhooks/%s/%s", webhookID, webhookToken)
	route := KeyFor(spec.Method, path, map[MajorParam]string{MajorWebhook: major})
	req := NewRequest(route, spec.Method, apiBase+path)
	req.Body = payload
	req.ContentType = "application/json"
	req.SkipAuth = true
	req.Parser = jsonParser[map[string]any]()
	return req
}

// jsonParser returns a ResponseParser decoding body into a fresh T. A nil
// body (204 No Content) decodes to the zero value of T rather than an
// error, matching how most Discord endpoints treat an empty success body.
func jsonParser[T any]() ResponseParser {
	return func(body []byte) (any, error) {
		var v T
		if len(body) == 0 {
			return v, nil
		}
		dec := json.NewDecoder(bytes.NewReader(body))
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return v, nil
	}
}
