package game

import (
	"math/rand"
	"sort"

	"github.com/google/uuid"

	"github.com/studydeck/gamecore/internal/models"
)

const maxDailyDoubles = 2

// difficultyPoints is the five-tier difficulty-to-points scale used when the
// generator did not supply an explicit column position.
var difficultyPoints = map[string]int{
	models.DifficultyEasy:       100,
	models.DifficultyMediumLow:  200,
	models.DifficultyMedium:     300,
	models.DifficultyMediumHigh: 400,
	models.DifficultyHard:       500,
}

// QuestionProcessor shapes AI-generated candidates into persistable
// point-valued question records for a session.
type QuestionProcessor struct {
	rng *rand.Rand
}

// NewQuestionProcessor creates a processor with its own RNG source for the
// Daily Double selection. Tests pass a fixed seed.
func NewQuestionProcessor(seed int64) *QuestionProcessor {
	return &QuestionProcessor{rng: rand.New(rand.NewSource(seed))}
}

// Process converts raw candidates into GameQuestion records for the session.
// For grid-style modes, final-round questions are ordered last and
// min(2, eligible) regular questions above the lowest point tier are flagged
// as Daily Doubles.
func (p *QuestionProcessor) Process(session *models.GameSession, raw []models.RawQuestion) []models.GameQuestion {
	questions := make([]models.GameQuestion, 0, len(raw))
	for _, r := range raw {
		questions = append(questions, models.GameQuestion{
			ID:            uuid.New(),
			GameSessionID: session.ID,
			Data: models.QuestionData{
				Prompt:      r.Prompt,
				Options:     r.Options,
				Explanation: r.Explanation,
			},
			CorrectAnswer:    r.CorrectAnswer,
			Category:         r.Category,
			Difficulty:       r.Difficulty,
			Points:           pointsFor(r),
			TimeLimitSeconds: session.Config.TimePerQuestionSec,
			ColumnPosition:   r.ColumnPosition,
			IsFinalRound:     r.IsFinalRound,
		})
	}

	if session.GameType == models.GameTypeJeopardy {
		p.flagDailyDoubles(questions)
		// Final-round questions always sort behind every regular question.
		sort.SliceStable(questions, func(i, j int) bool {
			return !questions[i].IsFinalRound && questions[j].IsFinalRound
		})
	}

	for i := range questions {
		questions[i].QuestionIndex = i
	}
	return questions
}

// flagDailyDoubles marks min(2, eligible) regular questions with a column
// position above the lowest tier. Zero eligible questions is not an error.
func (p *QuestionProcessor) flagDailyDoubles(questions []models.GameQuestion) {
	var eligible []int
	for i, q := range questions {
		if !q.IsFinalRound && q.ColumnPosition != nil && *q.ColumnPosition > 1 {
			eligible = append(eligible, i)
		}
	}

	n := maxDailyDoubles
	if len(eligible) < n {
		n = len(eligible)
	}
	for _, pos := range p.rng.Perm(len(eligible))[:n] {
		questions[eligible[pos]].IsDailyDouble = true
	}
}

// pointsFor maps a candidate to its point value: column position times 100
// when present, otherwise the difficulty tier scale.
func pointsFor(r models.RawQuestion) int {
	if r.ColumnPosition != nil {
		return *r.ColumnPosition * 100
	}
	if pts, ok := difficultyPoints[r.Difficulty]; ok {
		return pts
	}
	return difficultyPoints[models.DifficultyMedium]
}
