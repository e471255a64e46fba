package quiz

import (
	"sort"

	"github.com/korjavin/quizbot/models"
)

// Score computes the final result from a frozen answer snapshot. It is
// pure: same inputs always produce the same ScoreResult.
//
// Questions without a known correct option, and questions that were never
// dispatched, are excluded from both the correct count and the total.
// Only participants with at least one recorded answer appear; a silent
// participant is absent rather than listed with zeroes. The ranking orders
// by correct count descending, then answered count ascending, then user ID.
func Score(questions []models.Question, undispatched map[int]bool, answers []models.ParticipantAnswer) models.ScoreResult {
	total := 0
	scorable := make(map[int]string, len(questions))
	for i, q := range questions {
		if undispatched[i] || !q.HasCorrect() {
			continue
		}
		scorable[i] = q.Correct
		total++
	}

	perUser := make(map[int64]models.UserScore)
	for _, a := range answers {
		if a.QuestionIndex < 0 || a.QuestionIndex >= len(questions) {
			continue
		}
		score := perUser[a.UserID]
		score.Answered++
		if want, ok := scorable[a.QuestionIndex]; ok && a.Label == want {
			score.Correct++
		}
		score.Total = total
		perUser[a.UserID] = score
	}

	ranking := make([]int64, 0, len(perUser))
	for userID := range perUser {
		ranking = append(ranking, userID)
	}
	sort.Slice(ranking, func(i, j int) bool {
		a, b := perUser[ranking[i]], perUser[ranking[j]]
		if a.Correct != b.Correct {
			return a.Correct > b.Correct
		}
		if a.Answered != b.Answered {
			return a.Answered < b.Answered
		}
		return ranking[i] < ranking[j]
	})

	return models.ScoreResult{PerUser: perUser, Ranking: ranking}
}
