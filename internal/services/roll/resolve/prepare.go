package resolve

import "strings"

// DebugMarker is the leading character that asks for a private trace.
const DebugMarker = '?'

// CommentMarker separates the expression from its inline comment.
const CommentMarker = '#'

// Request is a roll request with its markers split off.
type Request struct {
	Text    string
	Comment string
	Debug   bool
}

// Prepare strips the debug marker and the inline comment from raw. The
// comment starts at the last unescaped '#'; an escaped "\#" stays in the
// text as a literal '#'.
func Prepare(raw string) Request {
	var req Request
	text := strings.TrimSpace(raw)
	if strings.HasPrefix(text, string(DebugMarker)) {
		req.Debug = true
		text = text[1:]
	}

	if idx := lastUnescaped(text, CommentMarker); idx >= 0 {
		req.Comment = strings.TrimSpace(text[idx+1:])
		text = text[:idx]
	}
	req.Text = strings.TrimSpace(strings.ReplaceAll(text, `\#`, "#"))
	req.Comment = strings.ReplaceAll(req.Comment, `\#`, "#")
	return req
}

func lastUnescaped(text string, marker byte) int {
	for i := len(text) - 1; i >= 0; i-- {
		if text[i] != marker {
			continue
		}
		backslashes := 0
		for j := i - 1; j >= 0 && text[j] == '\\'; j-- {
			backslashes++
		}
		if backslashes%2 == 0 {
			return i
		}
	}
	return -1
}
