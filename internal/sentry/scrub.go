package sentry

import (
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

// sensitiveFragments mark keys whose values may hold credentials. Matching is
// case-insensitive and by substring, so "secretHash", "X-Access-Token" and
// "Set-Cookie" are all caught.
var sensitiveFragments = []string{"secret", "token", "password", "authorization", "cookie", "jwt"}

func sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, f := range sensitiveFragments {
		if strings.Contains(key, f) {
			return true
		}
	}
	return false
}

func redactStrings(m map[string]string) {
	for k := range m {
		if sensitive(k) {
			m[k] = filtered
		}
	}
}

func redactAny(m map[string]any) {
	for k := range m {
		if sensitive(k) {
			m[k] = filtered
		}
	}
}

// ScrubEvent is the BeforeSend hook. Request bodies are dropped outright
// since identity refreshes carry the secret phrase in them.
func ScrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if req := event.Request; req != nil {
		redactStrings(req.Headers)
		redactStrings(req.Env)
		req.Data = ""
		req.Cookies = ""
		req.QueryString = scrubQuery(req.QueryString)
		if u, err := url.Parse(req.URL); err == nil && u.RawQuery != "" {
			u.RawQuery = scrubQuery(u.RawQuery)
			req.URL = u.String()
		}
	}
	redactStrings(event.Tags)
	redactAny(event.Extra)
	for _, b := range event.Breadcrumbs {
		if b != nil {
			redactAny(b.Data)
		}
	}
	return event
}

// ScrubTransaction is the BeforeSendTransaction hook.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}

// scrubQuery filters sensitive parameters, mostly the access_token used by
// websocket and event-stream clients.
func scrubQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		return filtered
	}
	changed := false
	for key := range values {
		if sensitive(key) {
			values.Set(key, filtered)
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return values.Encode()
}
