package backend

import (
	"io"
	"strings"
	"unicode/utf8"
)

// pumpLines reads r until it fails and calls emit for every complete line,
// then for any trailing partial line. Line endings are removed, invalid
// UTF-8 is replaced and blank lines are skipped.
//
// Reads are chunked rather than line-buffered so a backend that prints a
// prompt without a newline still has it flushed when the stream ends.
func pumpLines(r io.Reader, emit func(string)) {
	buf := make([]byte, 4096)
	var pending strings.Builder

	flush := func(line string) {
		line = strings.TrimRight(line, "\r\n")
		if strings.TrimSpace(line) == "" {
			return
		}
		emit(line)
	}

	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := pending.String() + sanitizeUTF8(string(buf[:n]))
			pending.Reset()
			for {
				idx := strings.IndexByte(chunk, '\n')
				if idx < 0 {
					pending.WriteString(chunk)
					break
				}
				flush(chunk[:idx])
				chunk = chunk[idx+1:]
			}
		}
		if err != nil {
			if pending.Len() > 0 {
				flush(pending.String())
			}
			return
		}
	}
}

// sanitizeUTF8 replaces invalid byte sequences with U+FFFD.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "�")
}
