// Package parser segments normalized document text into ordered
// multiple-choice question records. Parsing is pure and idempotent: it
// performs no I/O and the same input always yields the same records.
package parser

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/korjavin/quizbot/models"
)

// Reason classifies why a parse produced no usable questions.
type Reason int

const (
	// NoQuestionsFound means no question block was recognized at all.
	NoQuestionsFound Reason = iota
	// MalformedOptionBlock means question blocks were recognized but every
	// one of them had an invalid option block (e.g. duplicate labels).
	MalformedOptionBlock
)

func (r Reason) String() string {
	switch r {
	case NoQuestionsFound:
		return "no questions found"
	case MalformedOptionBlock:
		return "malformed option block"
	default:
		return "unknown"
	}
}

// ParseError is returned when a document yields zero valid questions.
type ParseError struct {
	Reason Reason
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse failed: %s", e.Reason)
}

const (
	maxOptions = 6
	minOptions = 2
)

var (
	questionRe = regexp.MustCompile(`^\s{0,3}(\d{1,3})[.)\-:]\s+(.*)$`)
	optionRe   = regexp.MustCompile(`^\s{0,3}([A-Fa-f])[.)\-:]\s+(.*)$`)
	answerRe   = regexp.MustCompile(`^\s{0,3}(?i:answer|ans)\s*[:\-]?\s*\(?([A-Fa-f])\)?\s*$`)
)

// scanner state: which span the next plain line extends.
type scanState int

const (
	seekingQuestion scanState = iota
	inQuestionText
	inOption
)

// lineKind tags a single input line for the state machine.
type lineKind int

const (
	linePlain lineKind = iota
	lineBlank
	lineQuestion
	lineOption
	lineAnswer
)

type taggedLine struct {
	kind  lineKind
	num   int    // lineQuestion
	label string // lineOption / lineAnswer, uppercased
	text  string // remainder after the token
}

func tagLine(line string) taggedLine {
	if strings.TrimSpace(line) == "" {
		return taggedLine{kind: lineBlank}
	}
	if m := answerRe.FindStringSubmatch(line); m != nil {
		return taggedLine{kind: lineAnswer, label: strings.ToUpper(m[1])}
	}
	if m := questionRe.FindStringSubmatch(line); m != nil {
		num, _ := strconv.Atoi(m[1])
		return taggedLine{kind: lineQuestion, num: num, text: strings.TrimSpace(m[2])}
	}
	if m := optionRe.FindStringSubmatch(line); m != nil {
		return taggedLine{kind: lineOption, label: strings.ToUpper(m[1]), text: strings.TrimSpace(m[2])}
	}
	return taggedLine{kind: linePlain, text: strings.TrimSpace(line)}
}

// block accumulates one question while it is being scanned.
type block struct {
	number  int
	text    []string
	options []optionAcc
	correct string
}

type optionAcc struct {
	label string
	text  []string
}

// Parse converts normalized text into an ordered question sequence.
// Question blocks that accumulated fewer than two options are dropped as
// noise; blocks with duplicate option labels are likewise dropped. Only a
// document yielding zero valid blocks fails, with *ParseError.
func Parse(clean string) ([]models.Question, error) {
	var (
		questions []models.Question
		cur       *block
		state     = seekingQuestion
		malformed bool
	)

	flush := func() {
		if cur == nil {
			return
		}
		q, ok := cur.build()
		if ok {
			questions = append(questions, q)
		} else if len(cur.options) >= minOptions {
			// Enough option lines, still unusable: duplicate labels.
			malformed = true
		}
		cur = nil
	}

	for _, raw := range strings.Split(clean, "\n") {
		line := tagLine(raw)
		switch line.kind {
		case lineQuestion:
			flush()
			cur = &block{number: line.num}
			if line.text != "" {
				cur.text = append(cur.text, line.text)
			}
			state = inQuestionText
		case lineOption:
			if cur == nil {
				continue // stray option before any question; noise
			}
			cur.options = append(cur.options, optionAcc{label: line.label, text: []string{line.text}})
			state = inOption
		case lineAnswer:
			if cur != nil {
				cur.correct = line.label
				flush()
			}
			state = seekingQuestion
		case lineBlank:
			// soft separator, spans stay open
		case linePlain:
			if cur == nil {
				continue
			}
			switch state {
			case inQuestionText:
				cur.text = append(cur.text, line.text)
			case inOption:
				opt := &cur.options[len(cur.options)-1]
				opt.text = append(opt.text, line.text)
			}
		}
	}
	flush()

	if len(questions) == 0 {
		reason := NoQuestionsFound
		if malformed {
			reason = MalformedOptionBlock
		}
		return nil, &ParseError{Reason: reason}
	}
	return questions, nil
}

// build validates and assembles the accumulated block. ok is false when
// the block must be dropped.
func (b *block) build() (models.Question, bool) {
	if len(b.options) < minOptions || len(b.options) > maxOptions {
		return models.Question{}, false
	}

	seen := make(map[string]bool, len(b.options))
	opts := make([]models.Option, 0, len(b.options))
	for _, o := range b.options {
		if seen[o.label] {
			return models.Question{}, false
		}
		seen[o.label] = true
		opts = append(opts, models.Option{
			Label: o.label,
			Text:  strings.Join(o.text, " "),
		})
	}

	// Documents occasionally list options out of order; present them
	// sorted by label.
	sort.Slice(opts, func(i, j int) bool { return opts[i].Label < opts[j].Label })

	correct := ""
	if b.correct != "" && seen[b.correct] {
		correct = b.correct
	}

	return models.Question{
		Number:  b.number,
		Text:    strings.Join(b.text, " "),
		Options: opts,
		Correct: correct,
	}, true
}
