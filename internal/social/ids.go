package social

import "strings"

// CompareIDs orders two notification or status ids. Mastodon ids are decimal
// strings of varying length, so a shorter numeric id is always smaller.
// Returns -1, 0 or 1.
func CompareIDs(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if isDecimal(a) && isDecimal(b) && len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// MaxID returns the largest id among the notifications, or "" if none.
func MaxID(notes []*Notification) string {
	var max string
	for _, n := range notes {
		if n == nil || n.ID == "" {
			continue
		}
		if max == "" || CompareIDs(n.ID, max) > 0 {
			max = n.ID
		}
	}
	return max
}

func isDecimal(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
