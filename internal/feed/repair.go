package feed

import (
	"html"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"
)

// RepairText cleans feed text: HTML entities are decoded (twice, since
// feeds often escape already-escaped text), UTF-8 that was mis-decoded
// as Windows-1252 is restored, and whitespace runs collapse to one space.
func RepairText(s string) string {
	for i := 0; i < 2; i++ {
		u := html.UnescapeString(s)
		if u == s {
			break
		}
		s = u
	}
	s = repairMojibake(s)
	return strings.Join(strings.Fields(s), " ")
}

// repairMojibake reverses one round of UTF-8 bytes being read as
// Windows-1252. The result is kept only if it is valid UTF-8.
func repairMojibake(s string) string {
	if !strings.ContainsAny(s, "ÃÂâ") {
		return s
	}
	b, err := charmap.Windows1252.NewEncoder().Bytes([]byte(s))
	if err != nil || !utf8.Valid(b) {
		return s
	}
	return string(b)
}
