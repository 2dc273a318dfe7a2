package game_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/studydeck/gamecore/internal/game"
	"github.com/studydeck/gamecore/internal/models"
)

func col(n int) *int { return &n }

func jeopardySession() *models.GameSession {
	return &models.GameSession{
		ID:       uuid.New(),
		GameType: models.GameTypeJeopardy,
		Config:   models.GameConfig{QuestionCount: 10, TimePerQuestionSec: 20},
	}
}

func TestProcessPointsMapping(t *testing.T) {
	session := &models.GameSession{
		ID:       uuid.New(),
		GameType: models.GameTypeQuizBattle,
		Config:   models.GameConfig{QuestionCount: 7, TimePerQuestionSec: 30},
	}
	p := game.NewQuestionProcessor(1)

	raw := []models.RawQuestion{
		{Difficulty: models.DifficultyEasy},
		{Difficulty: models.DifficultyMediumLow},
		{Difficulty: models.DifficultyMedium},
		{Difficulty: models.DifficultyMediumHigh},
		{Difficulty: models.DifficultyHard},
		{Difficulty: "unknown"},
		{Difficulty: models.DifficultyEasy, ColumnPosition: col(4)},
	}
	questions := p.Process(session, raw)
	require.Len(t, questions, 7)

	wantPoints := []int{100, 200, 300, 400, 500, 300, 400}
	for i, q := range questions {
		require.Equal(t, wantPoints[i], q.Points, "question %d", i)
		require.Equal(t, i, q.QuestionIndex)
		require.Equal(t, 30, q.TimeLimitSeconds)
		require.False(t, q.IsDailyDouble, "quiz battle never flags daily doubles")
	}
}

func TestProcessFlagsDailyDoubles(t *testing.T) {
	p := game.NewQuestionProcessor(42)

	raw := []models.RawQuestion{
		{ColumnPosition: col(1)},
		{ColumnPosition: col(2)},
		{ColumnPosition: col(3)},
		{ColumnPosition: col(4)},
		{ColumnPosition: col(5)},
	}
	questions := p.Process(jeopardySession(), raw)

	flagged := 0
	for _, q := range questions {
		if q.IsDailyDouble {
			flagged++
			require.Greater(t, *q.ColumnPosition, 1, "lowest tier is never a daily double")
		}
	}
	require.Equal(t, 2, flagged)
}

func TestProcessDailyDoublesBoundedByEligible(t *testing.T) {
	p := game.NewQuestionProcessor(42)

	tests := map[string]struct {
		raw  []models.RawQuestion
		want int
	}{
		"one eligible": {
			raw:  []models.RawQuestion{{ColumnPosition: col(1)}, {ColumnPosition: col(2)}},
			want: 1,
		},
		"zero eligible": {
			raw:  []models.RawQuestion{{ColumnPosition: col(1)}, {ColumnPosition: col(1)}},
			want: 0,
		},
		"final round not eligible": {
			raw:  []models.RawQuestion{{ColumnPosition: col(3), IsFinalRound: true}, {ColumnPosition: col(2)}},
			want: 1,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			questions := p.Process(jeopardySession(), tc.raw)
			flagged := 0
			for _, q := range questions {
				if q.IsDailyDouble {
					flagged++
					require.False(t, q.IsFinalRound)
				}
			}
			require.Equal(t, tc.want, flagged)
		})
	}
}

func TestProcessSortsFinalRoundLast(t *testing.T) {
	p := game.NewQuestionProcessor(7)

	raw := []models.RawQuestion{
		{Prompt: "final-1", IsFinalRound: true},
		{Prompt: "regular-1", ColumnPosition: col(1)},
		{Prompt: "final-2", IsFinalRound: true},
		{Prompt: "regular-2", ColumnPosition: col(2)},
	}
	questions := p.Process(jeopardySession(), raw)

	require.Equal(t, []string{"regular-1", "regular-2", "final-1", "final-2"},
		[]string{questions[0].Data.Prompt, questions[1].Data.Prompt, questions[2].Data.Prompt, questions[3].Data.Prompt},
		"final-round questions come last, relative order preserved")
	for i, q := range questions {
		require.Equal(t, i, q.QuestionIndex)
	}
}

func TestProcessQuizBattlePreservesOrder(t *testing.T) {
	session := &models.GameSession{
		ID:       uuid.New(),
		GameType: models.GameTypeQuizBattle,
		Config:   models.GameConfig{QuestionCount: 3, TimePerQuestionSec: 30},
	}
	p := game.NewQuestionProcessor(1)

	raw := []models.RawQuestion{
		{Prompt: "a", IsFinalRound: true},
		{Prompt: "b"},
		{Prompt: "c"},
	}
	questions := p.Process(session, raw)
	require.Equal(t, "a", questions[0].Data.Prompt)
	require.Equal(t, "b", questions[1].Data.Prompt)
	require.Equal(t, "c", questions[2].Data.Prompt)
}
