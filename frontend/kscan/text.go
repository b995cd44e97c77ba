package kscan

import "strings"

// stripComments blanks line and block comments, preserving newlines so byte
// offsets keep mapping to the original line numbers.
func stripComments(src string) string {
	var sb strings.Builder
	sb.Grow(len(src))
	i := 0
	for i < len(src) {
		if strings.HasPrefix(src[i:], "//") {
			for i < len(src) && src[i] != '\n' {
				sb.WriteByte(' ')
				i++
			}
			continue
		}
		if strings.HasPrefix(src[i:], "/*") {
			// An unterminated comment blanks to end of source.
			stop := len(src)
			if end := strings.Index(src[i+2:], "*/"); end >= 0 {
				stop = i + 2 + end + 2
			}
			for _, c := range src[i:stop] {
				if c == '\n' {
					sb.WriteByte('\n')
				} else {
					sb.WriteByte(' ')
				}
			}
			i = stop
			continue
		}
		sb.WriteByte(src[i])
		i++
	}
	return sb.String()
}

func isIdentStart(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

// isIdent reports whether s is a well-formed identifier.
func isIdent(s string) bool {
	if s == "" || !isIdentStart(s[0]) {
		return false
	}
	for i := 1; i < len(s); i++ {
		if !isIdentChar(s[i]) {
			return false
		}
	}
	return true
}

// takeIdent returns the identifier at the start of s and its length.
func takeIdent(s string) (string, int) {
	if s == "" || !isIdentStart(s[0]) {
		return "", 0
	}
	n := 1
	for n < len(s) && isIdentChar(s[n]) {
		n++
	}
	return s[:n], n
}

// indexIdent finds word as a standalone identifier at or after off.
func indexIdent(src, word string, off int) int {
	for {
		at := strings.Index(src[off:], word)
		if at < 0 {
			return -1
		}
		at += off
		before := at == 0 || !isIdentChar(src[at-1])
		afterIdx := at + len(word)
		after := afterIdx >= len(src) || !isIdentChar(src[afterIdx])
		if before && after {
			return at
		}
		off = at + len(word)
	}
}

// replaceIdent substitutes standalone occurrences of an identifier.
func replaceIdent(src, name, value string) string {
	var sb strings.Builder
	off := 0
	for {
		at := indexIdent(src, name, off)
		if at < 0 {
			sb.WriteString(src[off:])
			return sb.String()
		}
		sb.WriteString(src[off:at])
		sb.WriteString(value)
		off = at + len(name)
	}
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}

// matchDelim returns the index of the delimiter closing s[open], or -1.
func matchDelim(s string, open int, lo, hi byte) int {
	depth := 0
	for i := open; i < len(s); i++ {
		switch s[i] {
		case lo:
			depth++
		case hi:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// splitTop splits on sep at zero paren/bracket/brace depth.
func splitTop(s string, sep byte) []string {
	var out []string
	depth, start := 0, 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case sep:
			if depth == 0 {
				out = append(out, s[start:i])
				start = i + 1
			}
		}
	}
	out = append(out, s[start:])
	return out
}

// splitIndexed splits "name[idx]" into its parts.
func splitIndexed(s string) (name, idx string, ok bool) {
	name, n := takeIdent(s)
	if name == "" {
		return "", "", false
	}
	rest := strings.TrimSpace(s[n:])
	if len(rest) < 2 || rest[0] != '[' {
		return "", "", false
	}
	close := matchDelim(rest, 0, '[', ']')
	if close != len(rest)-1 {
		return "", "", false
	}
	return name, strings.TrimSpace(rest[1:close]), true
}

// topLevelAssign finds a plain '=' at zero depth that is not part of a
// comparison or compound operator.
func topLevelAssign(s string) int {
	depth := 0
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '(', '[', '{':
			depth++
		case ')', ']', '}':
			depth--
		case '=':
			if depth != 0 {
				continue
			}
			if i+1 < len(s) && s[i+1] == '=' {
				i++
				continue
			}
			if i > 0 && strings.ContainsRune("=!<>+-*/%&|^", rune(s[i-1])) {
				continue
			}
			return i
		}
	}
	return -1
}

// lineCol converts a byte offset into 1-based line and column numbers.
func lineCol(src string, off int) (int, int) {
	if off > len(src) {
		off = len(src)
	}
	line, col := 1, 1
	for i := 0; i < off; i++ {
		if src[i] == '\n' {
			line++
			col = 1
		} else {
			col++
		}
	}
	return line, col
}

// leadingSpace counts the whitespace prefix of s.
func leadingSpace(s string) int {
	return len(s) - len(strings.TrimLeft(s, " \t\n\r"))
}

func contains(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
