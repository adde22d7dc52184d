package store

import "golang.org/x/text/unicode/norm"

// normText NFC-normalizes user-visible text before it is stored. Different
// browsers report the same title or url with different unicode compositions;
// normalizing on write keeps equality comparisons and the history dedup key
// stable across sessions.
func normText(s string) string {
	if norm.NFC.IsNormalString(s) {
		return s
	}
	return norm.NFC.String(s)
}
