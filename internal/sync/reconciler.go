package sync

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/studydeck/gamecore/internal/game/events"
	"github.com/studydeck/gamecore/internal/models"
	"github.com/studydeck/gamecore/internal/realtime"
)

const (
	defaultSettleDelay          = 150 * time.Millisecond
	defaultWaitingPollInterval  = 2 * time.Second
	defaultQuestionPollInterval = time.Second
)

// Fetcher is the read side of the persistence collaborator the reconciler
// needs to refresh its mirror.
type Fetcher interface {
	GetGameSession(ctx context.Context, id uuid.UUID) (*models.GameSession, error)
	GetCurrentQuestion(ctx context.Context, id uuid.UUID) (*models.GameQuestion, error)
	GetGameLeaderboard(ctx context.Context, id uuid.UUID) (*models.Leaderboard, error)
}

// Realtime is the push collaborator: three per-session change streams, each
// subscription returning its unsubscribe.
type Realtime interface {
	SubscribeToGameSession(sessionID uuid.UUID, handler func(realtime.Envelope)) (func(), error)
	SubscribeToGameQuestions(sessionID uuid.UUID, handler func(realtime.Envelope)) (func(), error)
	SubscribeToGameScores(sessionID uuid.UUID, handler func(realtime.Envelope)) (func(), error)
}

// Callbacks surface reconciled state changes to the UI boundary.
type Callbacks struct {
	OnQuestion       func(q *models.GameQuestion, timerOrigin time.Time)
	OnSessionUpdated func(s *models.GameSession)
	OnLeaderboard    func(lb *models.Leaderboard)
	OnQuestionsReady func()
	OnEnded          func(status models.GameStatus)
}

// Config configures a Reconciler.
type Config struct {
	SessionID            uuid.UUID
	Fetcher              Fetcher
	Realtime             Realtime
	Clock                clockwork.Clock
	Callbacks            Callbacks
	SettleDelay          time.Duration
	WaitingPollInterval  time.Duration
	QuestionPollInterval time.Duration
}

// Reconciler maintains an eventually consistent GameView for one client,
// merging the push subscription with two polling loops. All three sources
// serialize through one mutex and one reducer; no lock is held across a
// network call or timer wait.
type Reconciler struct {
	sessionID uuid.UUID
	fetch     Fetcher
	rt        Realtime
	clock     clockwork.Clock
	cb        Callbacks

	settleDelay          time.Duration
	waitingPollInterval  time.Duration
	questionPollInterval time.Duration

	ctx context.Context

	mu           sync.Mutex
	view         *GameView
	unsubs       []func()
	waitingStop  chan struct{}
	questionStop chan struct{}
	tornDown     bool
}

// NewReconciler creates a reconciler for one session.
func NewReconciler(cfg Config) *Reconciler {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.SettleDelay == 0 {
		cfg.SettleDelay = defaultSettleDelay
	}
	if cfg.WaitingPollInterval == 0 {
		cfg.WaitingPollInterval = defaultWaitingPollInterval
	}
	if cfg.QuestionPollInterval == 0 {
		cfg.QuestionPollInterval = defaultQuestionPollInterval
	}

	return &Reconciler{
		sessionID:            cfg.SessionID,
		fetch:                cfg.Fetcher,
		rt:                   cfg.Realtime,
		clock:                cfg.Clock,
		cb:                   cfg.Callbacks,
		settleDelay:          cfg.SettleDelay,
		waitingPollInterval:  cfg.WaitingPollInterval,
		questionPollInterval: cfg.QuestionPollInterval,
		view:                 &GameView{},
	}
}

// Start subscribes to the three change streams, pulls the initial session
// state, and starts the poll matching its status.
func (r *Reconciler) Start(ctx context.Context) error {
	r.ctx = ctx

	if err := r.Resubscribe(); err != nil {
		return err
	}

	session, err := r.fetch.GetGameSession(ctx, r.sessionID)
	if err != nil {
		return fmt.Errorf("fetch initial session: %w", err)
	}
	r.Apply(session)
	return nil
}

// Resubscribe (re-)establishes all three stream subscriptions, dropping any
// existing ones first.
func (r *Reconciler) Resubscribe() error {
	r.mu.Lock()
	if r.tornDown {
		r.mu.Unlock()
		return nil
	}
	old := r.unsubs
	r.unsubs = nil
	r.mu.Unlock()

	for _, u := range old {
		u()
	}

	var unsubs []func()
	subs := []func(uuid.UUID, func(realtime.Envelope)) (func(), error){
		r.rt.SubscribeToGameSession,
		r.rt.SubscribeToGameQuestions,
		r.rt.SubscribeToGameScores,
	}
	handlers := []func(realtime.Envelope){
		r.handleSessionEvent,
		r.handleQuestionEvent,
		r.handleScoreEvent,
	}
	for i, sub := range subs {
		unsub, err := sub(r.sessionID, handlers[i])
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return fmt.Errorf("subscribe stream: %w", err)
		}
		unsubs = append(unsubs, unsub)
	}

	r.mu.Lock()
	if r.tornDown {
		r.mu.Unlock()
		for _, u := range unsubs {
			u()
		}
		return nil
	}
	r.unsubs = unsubs
	r.mu.Unlock()
	return nil
}

// handleSessionEvent reacts to a push-delivered session change. The event is
// only a hint: the authoritative row is re-fetched and reconciled, so a
// duplicate, stale, or poll-raced event cannot double-apply.
func (r *Reconciler) handleSessionEvent(env realtime.Envelope) {
	log.Debug().
		Str("event_type", env.EventType).
		Str("session_id", env.GameSessionID).
		Msg("session event received")

	session, err := r.fetch.GetGameSession(r.ctx, r.sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", r.sessionID.String()).Msg("session refresh failed; next poll will self-heal")
		return
	}
	r.Apply(session)
}

func (r *Reconciler) handleQuestionEvent(env realtime.Envelope) {
	if env.EventType == events.TypeQuestionsReady && r.cb.OnQuestionsReady != nil {
		r.cb.OnQuestionsReady()
	}
}

// handleScoreEvent refreshes the leaderboard. A single failed refresh is
// cosmetic; it is logged and tolerated rather than aborting the session.
func (r *Reconciler) handleScoreEvent(env realtime.Envelope) {
	lb, err := r.fetch.GetGameLeaderboard(r.ctx, r.sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", r.sessionID.String()).Msg("leaderboard refresh failed")
		return
	}

	r.mu.Lock()
	if r.tornDown {
		r.mu.Unlock()
		return
	}
	r.view.Leaderboard = lb
	r.mu.Unlock()

	if r.cb.OnLeaderboard != nil {
		r.cb.OnLeaderboard(lb)
	}
}

// Apply funnels an incoming session snapshot through the reducer and carries
// out its effects. Safe to call from any source.
func (r *Reconciler) Apply(incoming *models.GameSession) {
	r.mu.Lock()
	if r.tornDown {
		r.mu.Unlock()
		return
	}

	d := reconcile(r.view, incoming)
	if !d.apply {
		r.mu.Unlock()
		return
	}

	r.view.Session = incoming
	if d.markEnded {
		r.view.Ended = true
		r.view.Question = nil
	}
	r.adjustPollersLocked(incoming.Status)
	r.mu.Unlock()

	if r.cb.OnSessionUpdated != nil {
		r.cb.OnSessionUpdated(incoming)
	}
	if d.markEnded {
		if r.cb.OnEnded != nil {
			r.cb.OnEnded(incoming.Status)
		}
		return
	}
	if d.fetchQuestion {
		r.fetchQuestion(incoming.CurrentQuestionIndex, d.timerOrigin, d.resetAnswered)
	}
}

// fetchQuestion pulls the current question after a short settle delay so the
// read does not race a replica that has not yet observed the write behind
// the change event.
func (r *Reconciler) fetchQuestion(index int, origin time.Time, resetAnswered bool) {
	if r.settleDelay > 0 {
		r.clock.Sleep(r.settleDelay)
	}

	q, err := r.fetch.GetCurrentQuestion(r.ctx, r.sessionID)
	if err != nil {
		log.Error().Err(err).
			Str("session_id", r.sessionID.String()).
			Int("question_index", index).
			Msg("question fetch failed; next poll will self-heal")
		return
	}

	r.mu.Lock()
	if r.tornDown || r.view.Session == nil || r.view.Session.CurrentQuestionIndex != index {
		// A newer transition won the race while we were fetching.
		r.mu.Unlock()
		return
	}
	r.view.Question = q
	r.view.TimerOrigin = origin
	if resetAnswered {
		r.view.HasAnswered = false
	}
	r.mu.Unlock()

	if r.cb.OnQuestion != nil {
		r.cb.OnQuestion(q, origin)
	}
}

// PollOnce performs one poll tick: fetch the session and reconcile. Both
// polling loops use it; which loop is running depends only on status.
func (r *Reconciler) PollOnce(ctx context.Context) {
	session, err := r.fetch.GetGameSession(ctx, r.sessionID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", r.sessionID.String()).Msg("poll failed")
		return
	}
	r.Apply(session)
}

// adjustPollersLocked starts and stops the two polling loops to match the
// session status: the waiting poll runs only while waiting, the question
// poll only while in progress.
func (r *Reconciler) adjustPollersLocked(status models.GameStatus) {
	switch {
	case status == models.GameStatusWaiting:
		r.stopQuestionPollLocked()
		if r.waitingStop == nil {
			r.waitingStop = make(chan struct{})
			go r.runPoll(r.waitingStop, r.waitingPollInterval)
		}
	case status == models.GameStatusInProgress:
		r.stopWaitingPollLocked()
		if r.questionStop == nil {
			r.questionStop = make(chan struct{})
			go r.runPoll(r.questionStop, r.questionPollInterval)
		}
	default:
		r.stopWaitingPollLocked()
		r.stopQuestionPollLocked()
	}
}

func (r *Reconciler) stopWaitingPollLocked() {
	if r.waitingStop != nil {
		close(r.waitingStop)
		r.waitingStop = nil
	}
}

func (r *Reconciler) stopQuestionPollLocked() {
	if r.questionStop != nil {
		close(r.questionStop)
		r.questionStop = nil
	}
}

func (r *Reconciler) runPoll(stop <-chan struct{}, interval time.Duration) {
	ticker := r.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-r.ctx.Done():
			return
		case <-ticker.Chan():
			r.PollOnce(r.ctx)
		}
	}
}

// Resync pulls a full snapshot (session, current question, leaderboard) and
// applies it wholesale, bypassing the incremental path. Used after a
// reconnect to be correct regardless of how many events were missed.
func (r *Reconciler) Resync(ctx context.Context) error {
	session, err := r.fetch.GetGameSession(ctx, r.sessionID)
	if err != nil {
		return fmt.Errorf("resync session: %w", err)
	}

	var question *models.GameQuestion
	if session.Status == models.GameStatusInProgress {
		question, err = r.fetch.GetCurrentQuestion(ctx, r.sessionID)
		if err != nil {
			return fmt.Errorf("resync question: %w", err)
		}
	}

	lb, err := r.fetch.GetGameLeaderboard(ctx, r.sessionID)
	if err != nil {
		return fmt.Errorf("resync leaderboard: %w", err)
	}

	r.mu.Lock()
	if r.tornDown {
		r.mu.Unlock()
		return nil
	}
	r.view.Session = session
	r.view.Question = question
	r.view.Leaderboard = lb
	r.view.TimerOrigin = session.UpdatedAt
	r.view.Ended = session.Status.Terminal()
	r.adjustPollersLocked(session.Status)
	ended := r.view.Ended
	origin := r.view.TimerOrigin
	r.mu.Unlock()

	if r.cb.OnSessionUpdated != nil {
		r.cb.OnSessionUpdated(session)
	}
	if question != nil && r.cb.OnQuestion != nil {
		r.cb.OnQuestion(question, origin)
	}
	if r.cb.OnLeaderboard != nil {
		r.cb.OnLeaderboard(lb)
	}
	if ended && r.cb.OnEnded != nil {
		r.cb.OnEnded(session.Status)
	}
	return nil
}

// View returns a copy of the current local mirror.
func (r *Reconciler) View() GameView {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view == nil {
		return GameView{}
	}
	return *r.view
}

// SetAnswered marks the current question as answered locally.
func (r *Reconciler) SetAnswered() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.view != nil {
		r.view.HasAnswered = true
	}
}

// Teardown releases everything in one pass: both polling loops, all three
// subscriptions, and the local state, so any in-flight callback becomes a
// no-op. Safe to invoke multiple times from different exit paths.
func (r *Reconciler) Teardown() {
	r.mu.Lock()
	if r.tornDown {
		r.mu.Unlock()
		return
	}
	r.tornDown = true
	r.stopWaitingPollLocked()
	r.stopQuestionPollLocked()
	unsubs := r.unsubs
	r.unsubs = nil
	r.view = nil
	r.mu.Unlock()

	for _, u := range unsubs {
		u()
	}
	log.Debug().Str("session_id", r.sessionID.String()).Msg("reconciler torn down")
}

// TornDown reports whether teardown has run.
func (r *Reconciler) TornDown() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tornDown
}
