// Package markdown implements the FenceDetector (C1) and MarkdownParser (C2)
// components from spec §4.1/§4.2: text normalization, fenced-code-region
// detection, and ATX heading-tree construction with character offsets.
package markdown

import "strings"

// Normalize applies the canonical text normalization from spec §3:
// CRLF/CR→LF, leading BOM stripped, trailing newline ensured.
func Normalize(raw []byte) string {
	s := string(raw)
	s = strings.TrimPrefix(s, "﻿")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	if !strings.HasSuffix(s, "\n") {
		s += "\n"
	}
	return s
}
