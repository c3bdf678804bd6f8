package config

import (
	"strings"
)

// secretKeys are the credentials that `otomed config` never prints in full.
var secretKeys = map[string]bool{
	"mastodon.access_token": true,
	"llm.api_key":           true,
	"image.api_key":         true,
	"telegram.token":        true,
}

// maskVisible is how many trailing characters of a credential stay readable,
// enough to tell two tokens apart.
const maskVisible = 4

// IsSecretKey reports whether key, such as "mastodon.access_token", names a
// credential.
func IsSecretKey(key string) bool {
	return secretKeys[key]
}

// Flatten turns the nested config document into "section.field" keys, so
// {"mastodon": {"base_url": u}} becomes {"mastodon.base_url": u}. Lists such
// as poll.ignore stay whole values.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	flattenInto(out, "", m)
	return out
}

func flattenInto(out map[string]any, section string, m map[string]any) {
	for name, v := range m {
		key := name
		if section != "" {
			key = section + "." + name
		}
		if child, ok := v.(map[string]any); ok {
			flattenInto(out, key, child)
			continue
		}
		out[key] = v
	}
}

// Unflatten rebuilds the nested document from "section.field" keys. When a key
// is both a value and a section, the section wins.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for key, v := range flat {
		parts := strings.Split(key, ".")
		section := out
		for _, name := range parts[:len(parts)-1] {
			section = childSection(section, name)
		}
		leaf := parts[len(parts)-1]
		if _, isSection := section[leaf].(map[string]any); isSection {
			continue
		}
		section[leaf] = v
	}
	return out
}

func childSection(parent map[string]any, name string) map[string]any {
	if m, ok := parent[name].(map[string]any); ok {
		return m
	}
	m := make(map[string]any)
	parent[name] = m
	return m
}

// MaskSecrets copies flat with every credential replaced by its masked form.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		if secretKeys[k] {
			v = maskValue(v)
		}
		out[k] = v
	}
	return out
}

// maskValue shows "***" plus the tail of a token. Unset credentials stay empty
// so the operator can see what is missing.
func maskValue(v any) any {
	s, ok := v.(string)
	if !ok || s == "" {
		return v
	}
	if len(s) > maskVisible {
		s = s[len(s)-maskVisible:]
	}
	return "***" + s
}
