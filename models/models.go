package models

import "time"

// Option is a single labeled choice within a question.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question is one multiple-choice question as parsed from a document.
// Number is the number printed in the source; it is informational only,
// actual ordering is document order. Correct is the label of the right
// option, or empty when the document did not reveal it.
type Question struct {
	Number  int      `json:"number"`
	Text    string   `json:"text"`
	Options []Option `json:"options"`
	Correct string   `json:"correct,omitempty"`
}

// HasCorrect reports whether the correct option is known, which is a
// precondition for this question participating in scoring.
func (q Question) HasCorrect() bool {
	return q.Correct != ""
}

// OptionTexts returns the option texts in label order, ready to be sent
// as poll choices.
func (q Question) OptionTexts() []string {
	texts := make([]string, len(q.Options))
	for i, o := range q.Options {
		texts[i] = o.Text
	}
	return texts
}

// LabelForIndex maps a zero-based poll option index back to the option
// label, returning "" when the index is out of range.
func (q Question) LabelForIndex(idx int) string {
	if idx < 0 || idx >= len(q.Options) {
		return ""
	}
	return q.Options[idx].Label
}

// QuizConfig is the immutable description of one quiz run.
type QuizConfig struct {
	ChatID   int64
	OwnerID  int64
	Question []Question
	Duration time.Duration
}

// ParticipantAnswer is the final recorded choice of one user for one
// question. A later answer for the same (user, question) pair replaces an
// earlier one, last write by AnsweredAt wins.
type ParticipantAnswer struct {
	UserID        int64
	QuestionIndex int
	Label         string
	AnsweredAt    time.Time
}

// UserScore summarises one participant's result.
type UserScore struct {
	Correct  int `json:"correct"`
	Answered int `json:"answered"`
	Total    int `json:"total"`
}

// ScoreResult is the immutable outcome of a completed quiz. Ranking
// contains only users who answered at least once, ordered by correct
// count descending, answered count ascending, then user ID.
type ScoreResult struct {
	PerUser map[int64]UserScore `json:"per_user"`
	Ranking []int64             `json:"ranking"`
}
