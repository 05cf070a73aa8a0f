package segmenter

import (
	"bytes"
	"strconv"
	"strings"
	"unicode/utf16"
)

// contentText turns a decoded page content stream, as written by
// pdfcpu's content extraction, into text lines. It understands the text
// showing operators (Tj, TJ, ' and ") and starts a new line on the text
// positioning operators that move vertically. Fonts with custom encodings
// come out as whatever bytes the stream holds.
func contentText(stream []byte) string {
	l := &contentLexer{src: stream}
	var (
		lines    []string
		line     strings.Builder
		operands []contentToken
		lastTmY  = ""
	)
	newline := func() {
		if s := strings.TrimSpace(line.String()); s != "" {
			lines = append(lines, s)
		}
		line.Reset()
	}

	for {
		tok, ok := l.next()
		if !ok {
			break
		}
		if tok.kind != tokOperator {
			operands = append(operands, tok)
			continue
		}

		switch tok.text {
		case "Tj":
			if s, ok := lastString(operands); ok {
				line.WriteString(s)
			}
		case "'", "\"":
			newline()
			if s, ok := lastString(operands); ok {
				line.WriteString(s)
			}
		case "TJ":
			for _, op := range operands {
				switch op.kind {
				case tokString:
					line.WriteString(op.text)
				case tokNumber:
					// Large negative kerning is how generators encode a space.
					if v, err := strconv.ParseFloat(op.text, 64); err == nil && v < -200 {
						line.WriteByte(' ')
					}
				}
			}
		case "Td", "TD":
			if len(operands) >= 2 && !isZero(operands[len(operands)-1].text) {
				newline()
			} else if line.Len() > 0 {
				line.WriteByte(' ')
			}
		case "Tm":
			if len(operands) >= 6 {
				y := operands[len(operands)-1].text
				if lastTmY != "" && y != lastTmY {
					newline()
				}
				lastTmY = y
			}
		case "T*", "ET":
			newline()
		case "ID":
			l.skipInlineImage()
		}
		operands = operands[:0]
	}
	newline()
	return strings.Join(lines, "\n")
}

func lastString(ops []contentToken) (string, bool) {
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].kind == tokString {
			return ops[i].text, true
		}
	}
	return "", false
}

func isZero(num string) bool {
	v, err := strconv.ParseFloat(num, 64)
	return err == nil && v == 0
}

type tokenKind int

const (
	tokNumber tokenKind = iota
	tokString
	tokName
	tokOperator
	tokOther
)

type contentToken struct {
	kind tokenKind
	text string
}

type contentLexer struct {
	src []byte
	pos int
}

func isWhite(c byte) bool {
	return c == ' ' || c == '\t' || c == '\r' || c == '\n' || c == '\f' || c == 0
}

func isDelim(c byte) bool {
	return strings.IndexByte("()<>[]{}/%", c) >= 0
}

func (l *contentLexer) next() (contentToken, bool) {
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		switch {
		case isWhite(c):
			l.pos++
		case c == '%':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' && l.src[l.pos] != '\r' {
				l.pos++
			}
		case c == '(':
			l.pos++
			return contentToken{kind: tokString, text: l.literalString()}, true
		case c == '<':
			if l.pos+1 < len(l.src) && l.src[l.pos+1] == '<' {
				l.pos += 2
				return contentToken{kind: tokOther, text: "<<"}, true
			}
			l.pos++
			return contentToken{kind: tokString, text: l.hexString()}, true
		case c == '>':
			l.pos++
			if l.pos < len(l.src) && l.src[l.pos] == '>' {
				l.pos++
			}
			return contentToken{kind: tokOther, text: ">>"}, true
		case c == '[' || c == ']' || c == '{' || c == '}' || c == ')':
			l.pos++
			return contentToken{kind: tokOther, text: string(c)}, true
		case c == '/':
			start := l.pos
			l.pos++
			l.word()
			return contentToken{kind: tokName, text: string(l.src[start:l.pos])}, true
		default:
			start := l.pos
			l.word()
			if l.pos == start {
				l.pos++
				continue
			}
			w := string(l.src[start:l.pos])
			if _, err := strconv.ParseFloat(w, 64); err == nil {
				return contentToken{kind: tokNumber, text: w}, true
			}
			return contentToken{kind: tokOperator, text: w}, true
		}
	}
	return contentToken{}, false
}

func (l *contentLexer) word() {
	for l.pos < len(l.src) && !isWhite(l.src[l.pos]) && !isDelim(l.src[l.pos]) {
		l.pos++
	}
}

func (l *contentLexer) literalString() string {
	var buf []byte
	depth := 1
	for l.pos < len(l.src) {
		c := l.src[l.pos]
		l.pos++
		switch c {
		case '\\':
			if l.pos >= len(l.src) {
				return decodeTextBytes(buf)
			}
			e := l.src[l.pos]
			l.pos++
			switch e {
			case 'n':
				buf = append(buf, '\n')
			case 'r':
				buf = append(buf, '\r')
			case 't':
				buf = append(buf, '\t')
			case 'b':
				buf = append(buf, '\b')
			case 'f':
				buf = append(buf, '\f')
			case '\r':
				if l.pos < len(l.src) && l.src[l.pos] == '\n' {
					l.pos++
				}
			case '\n':
			default:
				if e >= '0' && e <= '7' {
					v := int(e - '0')
					for i := 0; i < 2 && l.pos < len(l.src) && l.src[l.pos] >= '0' && l.src[l.pos] <= '7'; i++ {
						v = v*8 + int(l.src[l.pos]-'0')
						l.pos++
					}
					buf = append(buf, byte(v))
				} else {
					buf = append(buf, e)
				}
			}
		case '(':
			depth++
			buf = append(buf, c)
		case ')':
			depth--
			if depth == 0 {
				return decodeTextBytes(buf)
			}
			buf = append(buf, c)
		default:
			buf = append(buf, c)
		}
	}
	return decodeTextBytes(buf)
}

func (l *contentLexer) hexString() string {
	var digits []byte
	for l.pos < len(l.src) && l.src[l.pos] != '>' {
		if c := l.src[l.pos]; !isWhite(c) {
			digits = append(digits, c)
		}
		l.pos++
	}
	l.pos++ // closing '>'
	if len(digits)%2 == 1 {
		digits = append(digits, '0')
	}
	buf := make([]byte, 0, len(digits)/2)
	for i := 0; i < len(digits); i += 2 {
		v, err := strconv.ParseUint(string(digits[i:i+2]), 16, 8)
		if err != nil {
			return ""
		}
		buf = append(buf, byte(v))
	}
	return decodeTextBytes(buf)
}

// skipInlineImage moves past the binary data of an inline image (BI ... ID
// <data> EI).
func (l *contentLexer) skipInlineImage() {
	if i := bytes.Index(l.src[l.pos:], []byte("EI")); i >= 0 {
		l.pos += i + 2
		return
	}
	l.pos = len(l.src)
}

// decodeTextBytes decodes UTF-16BE strings that carry a byte order mark and
// treats everything else as Latin-1.
func decodeTextBytes(b []byte) string {
	if len(b) >= 2 && b[0] == 0xFE && b[1] == 0xFF {
		u := make([]uint16, 0, (len(b)-2)/2)
		for i := 2; i+1 < len(b); i += 2 {
			u = append(u, uint16(b[i])<<8|uint16(b[i+1]))
		}
		return string(utf16.Decode(u))
	}
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}
