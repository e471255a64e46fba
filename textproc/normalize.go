// Package textproc cleans raw extracted page text before MCQ parsing.
package textproc

import (
	"regexp"
	"strings"
	"unicode"
)

// Tokens the parser keys on. Line boundaries in front of these must
// survive normalization, everything else may be re-flowed.
var (
	questionStartRe = regexp.MustCompile(`^\s{0,3}\d{1,3}[.)\-:]\s`)
	optionStartRe   = regexp.MustCompile(`^\s{0,3}[A-Fa-f][.)\-:]\s`)
	answerMarkerRe  = regexp.MustCompile(`^\s{0,3}(?i:answer|ans)\s*[:\-]`)
)

// minPageDensity is the per-page character count below which primary
// extraction is considered to have failed; matches the threshold the PDF
// pipeline has always used.
const minPageDensity = 20

// NeedsOCR reports whether a page's extracted text is too sparse to trust,
// in which case the caller should fall back to OCR on the page image.
func NeedsOCR(pageText string) bool {
	n := 0
	for _, r := range pageText {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n < minPageDensity
}

// Normalize cleans raw extracted text: strips control characters, collapses
// whitespace runs, joins lines broken mid-word by hyphenation or hard
// wrapping, and collapses blank-line runs. Line breaks that precede a
// question-number, option-label, or answer-marker token are preserved so
// the parser can still segment the document. Never fails; empty input
// yields empty output.
func Normalize(raw string) string {
	if raw == "" {
		return ""
	}

	cleaned := stripControl(raw)
	lines := strings.Split(cleaned, "\n")

	var out []string
	for _, line := range lines {
		line = collapseSpaces(line)
		if line == "" {
			// Keep a single blank as a soft block separator.
			if len(out) > 0 && out[len(out)-1] != "" {
				out = append(out, "")
			}
			continue
		}
		if len(out) == 0 || out[len(out)-1] == "" || startsToken(line) {
			out = append(out, line)
			continue
		}
		prev := out[len(out)-1]
		if strings.HasSuffix(prev, "-") {
			// Hyphenated wrap: rejoin the split word.
			out[len(out)-1] = strings.TrimSuffix(prev, "-") + line
		} else {
			out[len(out)-1] = prev + " " + line
		}
	}

	// Drop a trailing separator.
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

// startsToken reports whether a line opens a structure the parser
// recognizes and therefore must stay on its own line.
func startsToken(line string) bool {
	return questionStartRe.MatchString(line) ||
		optionStartRe.MatchString(line) ||
		answerMarkerRe.MatchString(line)
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n':
			b.WriteRune(r)
		case r == '\r' || r == '\t':
			b.WriteRune(' ')
		case unicode.IsControl(r):
			// drop
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
