package brain

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// ParseDecision extracts a decision from raw model output. It returns
// ok=false when the text holds no usable {"tool": ..., "argument": ...}
// object; callers substitute their fallback reply.
func ParseDecision(raw string) (Decision, bool) {
	for _, candidate := range candidates(raw) {
		obj, ok := decodeObject(candidate)
		if !ok {
			continue
		}
		if d, ok := toDecision(obj); ok {
			return d, true
		}
	}
	return nil, false
}

// candidates returns the first balanced JSON value in text, followed by the
// first balanced object when that differs (prose such as "[note] {...}").
func candidates(text string) []string {
	var out []string
	objStart := strings.IndexByte(text, '{')
	arrStart := strings.IndexByte(text, '[')

	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if v := balanced(text, arrStart); v != "" {
			out = append(out, v)
		}
	}
	if objStart >= 0 {
		if v := balanced(text, objStart); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// balanced returns text[start:end] where end closes the bracket opened at
// start, skipping brackets inside double-quoted strings. It returns "" when
// the value never closes.
func balanced(text string, start int) string {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		if c == '\\' && inString {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}

// decodeObject parses candidate (repairing it if needed) and returns the
// object itself or, for an array, its first element.
func decodeObject(candidate string) (map[string]json.RawMessage, bool) {
	var v json.RawMessage
	if err := json.Unmarshal([]byte(candidate), &v); err != nil {
		repaired, rerr := jsonrepair.JSONRepair(candidate)
		if rerr != nil {
			return nil, false
		}
		if err := json.Unmarshal([]byte(repaired), &v); err != nil {
			return nil, false
		}
	}

	v = bytes.TrimSpace(v)
	if len(v) > 0 && v[0] == '[' {
		var arr []json.RawMessage
		if err := json.Unmarshal(v, &arr); err != nil || len(arr) == 0 {
			return nil, false
		}
		v = bytes.TrimSpace(arr[0])
	}
	if len(v) == 0 || v[0] != '{' {
		return nil, false
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(v, &obj); err != nil {
		return nil, false
	}
	return obj, true
}

func toDecision(obj map[string]json.RawMessage) (Decision, bool) {
	rawTool, ok := obj["tool"]
	if !ok {
		return nil, false
	}
	var tool string
	if err := json.Unmarshal(rawTool, &tool); err != nil {
		return nil, false
	}
	tool = strings.ToLower(strings.TrimSpace(tool))
	arg := strings.TrimSpace(argumentText(obj["argument"]))

	switch {
	case tool == ToolChat && arg != "":
		return Chat{Text: arg}, true
	case tool == ToolGenerateImage && arg != "":
		return GenerateImage{Prompt: arg}, true
	default:
		return Unknown{Name: tool, Argument: arg}, true
	}
}

// argumentText returns string arguments verbatim and anything else as its
// compact JSON text. Missing and null arguments are empty.
func argumentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	if string(bytes.TrimSpace(raw)) == "null" {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw)
	}
	return buf.String()
}
