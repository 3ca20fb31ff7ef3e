package relay

import (
	"encoding/json"
	"strings"
)

// Batch is the interpreted content of one ingestion payload: zero or more
// log lines, an optional completion signal, and an optional completion
// message. A batch with no lines and no completion is a valid no-op.
type Batch struct {
	Lines             []string
	Complete          bool
	CompletionMessage string
}

var completionFlags = []string{"complete", "completed", "done", "finished"}

var completionMessageKeys = []string{"completionMessage", "completion", "message", "statusMessage"}

// Interpret maps a decoded JSON payload to a Batch. The workflow runner has
// sent several payload shapes over time; they are tried in a fixed order and
// the first match wins:
//
//  1. plain string: one line
//  2. array: one line per element, non-strings rendered as JSON
//  3. object with truthy "message" (unless completing): one line
//  4. object with truthy "log": one line
//  5. object with "logs" array: one line per element
//  6. object with "logs" string: split on newlines, blanks dropped
//  7. anything else that is not a completion signal: whole payload
//     pretty-printed as a single line
//
// A bare completion signal matching none of the above produces no lines.
func Interpret(payload any) Batch {
	var b Batch

	obj, isObj := payload.(map[string]any)
	if isObj {
		b.Complete = isCompletionSignal(obj)
		b.CompletionMessage = extractCompletionMessage(obj)
	}

	switch v := payload.(type) {
	case string:
		b.Lines = []string{v}
		return b
	case []any:
		for _, el := range v {
			b.Lines = append(b.Lines, stringify(el))
		}
		return b
	}

	if isObj {
		if msg, ok := obj["message"]; ok && truthy(msg) && !b.Complete {
			b.Lines = []string{stringify(msg)}
			return b
		}
		if lg, ok := obj["log"]; ok && truthy(lg) {
			b.Lines = []string{stringify(lg)}
			return b
		}
		switch logs := obj["logs"].(type) {
		case []any:
			for _, el := range logs {
				b.Lines = append(b.Lines, stringify(el))
			}
			return b
		case string:
			for _, seg := range strings.Split(logs, "\n") {
				if strings.TrimSpace(seg) != "" {
					b.Lines = append(b.Lines, seg)
				}
			}
			return b
		}
	}

	if !b.Complete {
		pretty, err := json.MarshalIndent(payload, "", "  ")
		if err != nil {
			pretty, _ = json.Marshal(payload)
		}
		b.Lines = []string{string(pretty)}
	}
	return b
}

// isCompletionSignal reports whether the payload marks the campaign run as
// finished: any truthy completion flag, or a status field equal to one of
// the known terminal values (case-sensitive).
func isCompletionSignal(obj map[string]any) bool {
	for _, key := range completionFlags {
		if truthy(obj[key]) {
			return true
		}
	}
	if status, ok := obj["status"].(string); ok {
		switch status {
		case "complete", "completed", "done":
			return true
		}
	}
	return false
}

func extractCompletionMessage(obj map[string]any) string {
	for _, key := range completionMessageKeys {
		if v, ok := obj[key]; ok && truthy(v) {
			return stringify(v)
		}
	}
	return ""
}

// truthy follows JSON truthiness: null, false, 0, and "" are falsy;
// objects and arrays are truthy even when empty.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case json.Number:
		return t.String() != "0"
	default:
		return true
	}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
