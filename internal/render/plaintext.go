package render

import "strings"

// PlaceholderEmptyBody is returned by Plaintext when normalisation
// leaves nothing behind.
const PlaceholderEmptyBody = "[This message has no text content.]"

var orphanDelimiters = map[string]bool{")": true, "]": true, "}": true}

// Plaintext normalises a plain-text body for display: CRLF becomes
// LF, runs of three or more blank lines collapse to two, trailing
// whitespace is trimmed per line, and trailing lines that are nothing
// but a single closing delimiter (a common artefact of a quoted-reply
// chain cut off mid-thread) are dropped.
func Plaintext(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")

	lines := strings.Split(text, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}

	collapsed := make([]string, 0, len(lines))
	blankRun := 0
	for _, l := range lines {
		if l == "" {
			blankRun++
			if blankRun > 2 {
				continue
			}
		} else {
			blankRun = 0
		}
		collapsed = append(collapsed, l)
	}

	for len(collapsed) > 0 {
		last := strings.TrimSpace(collapsed[len(collapsed)-1])
		if last == "" || orphanDelimiters[last] {
			collapsed = collapsed[:len(collapsed)-1]
			continue
		}
		break
	}

	result := strings.TrimRight(strings.Join(collapsed, "\n"), "\n")
	if strings.TrimSpace(result) == "" {
		return PlaceholderEmptyBody
	}
	return result
}
