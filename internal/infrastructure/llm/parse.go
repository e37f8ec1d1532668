package llm

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"
	"unicode/utf8"
)

var fenceExpr = regexp.MustCompile("(?s)```([a-zA-Z]*)\\s*\\n?(.*?)```")

// fenced returns the body of the first code fence tagged lang, if any.
func fenced(reply, lang string) (string, bool) {
	for _, m := range fenceExpr.FindAllStringSubmatch(reply, -1) {
		if strings.EqualFold(m[1], lang) {
			return strings.TrimSpace(m[2]), true
		}
	}
	return "", false
}

// firstValue returns the first complete JSON value starting with open. The
// decoder stops at the end of that value, so prose after it is ignored.
func firstValue(reply string, open byte) (string, bool) {
	for i := 0; i < len(reply); i++ {
		next := strings.IndexByte(reply[i:], open)
		if next < 0 {
			return "", false
		}
		i += next
		var raw json.RawMessage
		if err := json.NewDecoder(strings.NewReader(reply[i:])).Decode(&raw); err == nil {
			return string(bytes.TrimSpace(raw)), true
		}
	}
	return "", false
}

// outermost returns the text between the first open and the last close rune.
func outermost(reply string, open, close byte) (string, bool) {
	start := strings.IndexByte(reply, open)
	end := strings.LastIndexByte(reply, close)
	if start < 0 || end <= start {
		return "", false
	}
	return reply[start : end+1], true
}

// jsonPayload finds the JSON document in a model reply: a ```json fence, else
// the first decodable value, else the widest bracketed span.
func jsonPayload(reply string, open, close byte) (string, bool) {
	if body, ok := fenced(reply, "json"); ok {
		return body, true
	}
	if body, ok := firstValue(reply, open); ok {
		return body, true
	}
	return outermost(reply, open, close)
}

func clip(s string, limit int) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit]) + "..."
}
