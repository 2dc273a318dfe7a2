package game

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/models"
)

// CommandType enumerates the discrete commands the UI boundary may issue.
type CommandType string

const (
	CommandStartGame    CommandType = "START_GAME"
	CommandSubmitAnswer CommandType = "SUBMIT_ANSWER"
	CommandSetWager     CommandType = "SET_WAGER"
	CommandBuzz         CommandType = "BUZZ"
	CommandSkipQuestion CommandType = "SKIP_QUESTION"
	CommandNextQuestion CommandType = "NEXT_QUESTION"
	CommandTimerExpired CommandType = "TIMER_EXPIRED"
	CommandCloseGame    CommandType = "CLOSE_GAME"
	CommandExitGame     CommandType = "EXIT_GAME"
)

// Command is one UI-issued instruction for a session.
type Command struct {
	Type        CommandType `json:"type"`
	SessionID   uuid.UUID   `json:"session_id"`
	UserID      uuid.UUID   `json:"user_id"`
	Answer      string      `json:"answer,omitempty"`
	Wager       *int        `json:"wager,omitempty"`
	TimeTakenMs int         `json:"time_taken_ms,omitempty"`
}

// ErrCommandQueueFull is returned when a session's command channel is full.
var ErrCommandQueueFull = errors.New("command queue full")

// ParticipantLister exposes the players attached to a session, used to seed
// buzzer cycles.
type ParticipantLister interface {
	ListParticipants(ctx context.Context, sessionID uuid.UUID) ([]uuid.UUID, error)
}

// Notifier receives side-channel results the command loop produces for the
// UI boundary, such as buzz grants.
type Notifier func(sessionID uuid.UUID, event string, payload any)

// CommandLoop serializes all commands for sessions through one bounded
// channel and a single consuming goroutine, replacing ad-hoc event fan-in.
type CommandLoop struct {
	coordinator  *Coordinator
	scorer       *ScoringEngine
	arbiter      *BuzzerArbiter
	participants ParticipantLister
	notify       Notifier
	ch           chan Command

	// wagers staged via SET_WAGER, keyed per question and player. Only the
	// loop goroutine touches this map.
	wagers map[wagerKey]int
}

type wagerKey struct {
	questionID uuid.UUID
	userID     uuid.UUID
}

// NewCommandLoop creates a command loop with the given queue depth.
func NewCommandLoop(coordinator *Coordinator, scorer *ScoringEngine, arbiter *BuzzerArbiter, participants ParticipantLister, depth int) *CommandLoop {
	return &CommandLoop{
		coordinator:  coordinator,
		scorer:       scorer,
		arbiter:      arbiter,
		participants: participants,
		notify:       func(uuid.UUID, string, any) {},
		ch:           make(chan Command, depth),
		wagers:       make(map[wagerKey]int),
	}
}

// SetNotifier installs the UI-boundary callback for loop-produced results.
func (l *CommandLoop) SetNotifier(n Notifier) {
	if n != nil {
		l.notify = n
	}
}

// Submit enqueues a command without blocking. A full queue is reported to
// the caller rather than stalling the UI boundary.
func (l *CommandLoop) Submit(cmd Command) error {
	select {
	case l.ch <- cmd:
		return nil
	default:
		return ErrCommandQueueFull
	}
}

// Run consumes commands until the context is cancelled. Per-command failures
// are logged and do not stop the loop.
func (l *CommandLoop) Run(ctx context.Context) error {
	log.Info().Msg("command loop started")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("command loop shutting down")
			return nil
		case cmd := <-l.ch:
			if err := l.dispatch(ctx, cmd); err != nil {
				log.Error().
					Err(err).
					Str("command", string(cmd.Type)).
					Str("session_id", cmd.SessionID.String()).
					Msg("command failed")
			}
		}
	}
}

func (l *CommandLoop) dispatch(ctx context.Context, cmd Command) error {
	switch cmd.Type {
	case CommandStartGame:
		session, err := l.coordinator.StartGame(ctx, cmd.SessionID, cmd.UserID)
		if err != nil {
			return err
		}
		return l.openBuzzing(ctx, session)

	case CommandSubmitAnswer:
		return l.submitAnswer(ctx, cmd)

	case CommandSetWager:
		return l.setWager(ctx, cmd)

	case CommandBuzz:
		question, err := l.coordinator.repo.GetCurrentQuestion(ctx, cmd.SessionID)
		if err != nil {
			return fmt.Errorf("get current question: %w", err)
		}
		result, err := l.arbiter.Buzz(question.ID, cmd.UserID)
		if err != nil {
			return err
		}
		l.notify(cmd.SessionID, "buzz_granted", map[string]any{
			"user_id":    cmd.UserID.String(),
			"rank":       result.Rank,
			"can_answer": result.CanAnswer,
		})
		return nil

	case CommandSkipQuestion:
		question, err := l.coordinator.repo.GetCurrentQuestion(ctx, cmd.SessionID)
		if err == nil {
			l.arbiter.Resolve(question.ID)
		}
		return l.advance(ctx, cmd.SessionID)

	// Timer expiry routes through the same path as an explicit advance.
	case CommandNextQuestion, CommandTimerExpired:
		return l.advance(ctx, cmd.SessionID)

	case CommandCloseGame:
		_, err := l.coordinator.Cancel(ctx, cmd.SessionID, "closed by host")
		return err

	case CommandExitGame:
		_, err := l.coordinator.LeaveGame(ctx, cmd.SessionID, cmd.UserID)
		return err

	default:
		return &ValidationError{Field: "command", Reason: fmt.Sprintf("unknown command type %q", cmd.Type)}
	}
}

// setWager stages a wager ahead of the answer on a daily double or final
// round question. The staged value is consumed by the next answer submission
// from the same player on the same question.
func (l *CommandLoop) setWager(ctx context.Context, cmd Command) error {
	if cmd.Wager == nil {
		return &ValidationError{Field: "wager", Reason: "missing wager amount"}
	}
	question, err := l.coordinator.repo.GetCurrentQuestion(ctx, cmd.SessionID)
	if err != nil {
		return fmt.Errorf("get current question: %w", err)
	}
	if !question.Wagered() {
		return &ValidationError{Field: "wager", Reason: "current question does not accept wagers"}
	}
	l.wagers[wagerKey{questionID: question.ID, userID: cmd.UserID}] = *cmd.Wager
	l.notify(cmd.SessionID, "wager_set", map[string]any{
		"user_id":     cmd.UserID.String(),
		"question_id": question.ID.String(),
	})
	return nil
}

// submitAnswer scores the submission and, for buzzer modes, drives the
// re-buzz cycle: a wrong answer locks the player out and reopens the
// question, a correct answer resolves it.
func (l *CommandLoop) submitAnswer(ctx context.Context, cmd Command) error {
	session, err := l.coordinator.repo.GetGameSession(ctx, cmd.SessionID)
	if err != nil {
		return err
	}

	question, err := l.coordinator.repo.GetCurrentQuestion(ctx, cmd.SessionID)
	if err != nil {
		return fmt.Errorf("get current question: %w", err)
	}

	req := SubmitAnswerRequest{
		SessionID:   cmd.SessionID,
		UserID:      cmd.UserID,
		Answer:      cmd.Answer,
		Wager:       cmd.Wager,
		TimeTakenMs: cmd.TimeTakenMs,
	}
	key := wagerKey{questionID: question.ID, userID: cmd.UserID}
	if req.Wager == nil {
		if staged, ok := l.wagers[key]; ok {
			req.Wager = &staged
		}
	}
	if session.GameType == models.GameTypeJeopardy {
		rank := l.arbiter.RankOf(question.ID, cmd.UserID)
		// Wager rounds bypass the buzzer; otherwise only the first buzzer
		// of the current cycle may answer.
		if !question.Wagered() && rank != 1 {
			return ErrNoAnswerTurn
		}
		if rank > 0 {
			req.BuzzerRank = &rank
		}
	}

	rec, err := l.scorer.Submit(ctx, req)
	if err != nil {
		return err
	}
	delete(l.wagers, key)

	if session.GameType != models.GameTypeJeopardy {
		return nil
	}

	if rec.IsCorrect {
		l.arbiter.Resolve(question.ID)
		return nil
	}

	exhausted, err := l.arbiter.MarkWrong(question.ID, cmd.UserID)
	if err != nil && !errors.Is(err, ErrQuestionNotOpen) {
		return err
	}
	if exhausted {
		return l.advance(ctx, cmd.SessionID)
	}
	l.notify(cmd.SessionID, "question_reopened", map[string]any{
		"question_id": question.ID.String(),
	})
	return nil
}

// advance moves the session forward and opens buzzing on the new question
// for grid-style games. The question being left is resolved so the arbiter
// drops its buzz state along with any staged wagers.
func (l *CommandLoop) advance(ctx context.Context, sessionID uuid.UUID) error {
	if question, err := l.coordinator.repo.GetCurrentQuestion(ctx, sessionID); err == nil {
		l.arbiter.Resolve(question.ID)
		for key := range l.wagers {
			if key.questionID == question.ID {
				delete(l.wagers, key)
			}
		}
	}
	session, err := l.coordinator.Advance(ctx, sessionID)
	if err != nil {
		return err
	}
	return l.openBuzzing(ctx, session)
}

// openBuzzing opens a buzz cycle on the session's current question when the
// game mode uses the buzzer and the session is still live.
func (l *CommandLoop) openBuzzing(ctx context.Context, session *models.GameSession) error {
	if session.GameType != models.GameTypeJeopardy || session.Status != models.GameStatusInProgress {
		return nil
	}

	question, err := l.coordinator.repo.GetCurrentQuestion(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("get current question: %w", err)
	}
	players, err := l.participants.ListParticipants(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}
	l.arbiter.Open(question.ID, players)
	return nil
}
