package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/config"
	"github.com/spec-kit/membership-bot/internal/domain"
	"github.com/spec-kit/membership-bot/internal/events"
	"github.com/spec-kit/membership-bot/internal/observability"
	"github.com/spec-kit/membership-bot/internal/platform"
	"github.com/spec-kit/membership-bot/internal/registry"
	"github.com/spec-kit/membership-bot/internal/roster"
	"github.com/spec-kit/membership-bot/internal/session"
	"github.com/spec-kit/membership-bot/internal/store"
)

// Acknowledgement reactions for candidate answers.
const (
	reactionAccepted = "\U0001F440"
	reactionRejected = "\U0001F44E"
)

// VerifierService orchestrates the interview workflow: it opens the
// scoped channel, drives the session, grants or denies the verified
// role and tears the channel down.
type VerifierService struct {
	cfg        config.VerifyConfig
	gateway    platform.Gateway
	registry   *registry.Registry
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	questions  []session.Question

	docs       store.DocumentStore
	rosterPath string

	rosterMu sync.RWMutex
	roster   *roster.Roster

	mu      sync.Mutex
	active  map[sessionKey]*activeSession
	baseCtx context.Context
	wg      sync.WaitGroup
}

type sessionKey struct {
	user      domain.UserID
	community domain.CommunityID
}

type inboundAnswer struct {
	messageID string
	text      string
}

type activeSession struct {
	member  domain.Member
	channel platform.Channel
	inbox   chan inboundAnswer
	cancel  context.CancelFunc
}

// VerifierDependencies bundles the orchestrator's collaborators.
type VerifierDependencies struct {
	Gateway    platform.Gateway
	Roster     *roster.Roster
	Registry   *registry.Registry
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger
	Docs       store.DocumentStore
	RosterPath string
}

// NewVerifierService constructs the orchestrator.
func NewVerifierService(cfg config.VerifyConfig, deps VerifierDependencies) (*VerifierService, error) {
	questions, err := session.QuestionsFromConfig(cfg)
	if err != nil {
		return nil, err
	}

	return &VerifierService{
		cfg:        cfg,
		gateway:    deps.Gateway,
		roster:     deps.Roster,
		registry:   deps.Registry,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     deps.Logger,
		questions:  questions,
		docs:       deps.Docs,
		rosterPath: deps.RosterPath,
		active:     make(map[sessionKey]*activeSession),
		baseCtx:    context.Background(),
	}, nil
}

// Start subscribes to platform events. Sessions run until ctx is
// cancelled; Wait blocks until they have all wound down.
func (s *VerifierService) Start(ctx context.Context) {
	s.baseCtx = ctx
	s.dispatcher.Subscribe(events.EventMemberJoined, s.handleMemberJoined)
	s.dispatcher.Subscribe(events.EventMemberLeft, s.handleMemberLeft)
	s.dispatcher.Subscribe(events.EventMessageReceived, s.handleMessage)
}

// Wait blocks until all in-flight sessions finish.
func (s *VerifierService) Wait() {
	s.wg.Wait()
}

// Roster returns the current roster.
func (s *VerifierService) Roster() *roster.Roster {
	s.rosterMu.RLock()
	defer s.rosterMu.RUnlock()
	return s.roster
}

// ReloadRoster re-fetches the roster document and swaps it in.
func (s *VerifierService) ReloadRoster(ctx context.Context) error {
	fresh, err := roster.Load(ctx, s.docs, s.rosterPath, s.logger)
	if err != nil {
		return err
	}
	s.rosterMu.Lock()
	s.roster = fresh
	s.rosterMu.Unlock()
	return nil
}

func (s *VerifierService) handleMemberJoined(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MemberJoinedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", event.Type)
	}
	s.StartVerification(domain.Member{
		UserID:      payload.UserID,
		CommunityID: payload.CommunityID,
		Handle:      payload.Handle,
	})
	return nil
}

// handleMemberLeft unbinds the departed member and abandons any
// in-flight interview rather than waiting on it forever.
func (s *VerifierService) handleMemberLeft(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MemberLeftPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", event.Type)
	}

	key := sessionKey{user: payload.UserID, community: payload.CommunityID}
	s.mu.Lock()
	if active, ok := s.active[key]; ok && active.cancel != nil {
		active.cancel()
	}
	s.mu.Unlock()

	if err := s.registry.Unbind(ctx, payload.UserID, payload.CommunityID); err != nil {
		s.logger.Warn("unbind persist failed",
			zap.Int64("user_id", int64(payload.UserID)),
			zap.Int64("community_id", int64(payload.CommunityID)),
			zap.Error(err))
	}
	return nil
}

// handleMessage routes an inbound message: the verify command inside
// the designated public channel starts an interview; a message inside a
// session's scoped channel from its member is a candidate answer.
// Anything else is ignored.
func (s *VerifierService) handleMessage(ctx context.Context, event events.Event) error {
	payload, ok := event.Payload.(events.MessageReceivedPayload)
	if !ok {
		return fmt.Errorf("unexpected payload for %s", event.Type)
	}

	if payload.Text == s.cfg.CommandToken && payload.ChannelName == s.cfg.CommandChannel {
		s.StartVerification(domain.Member{
			UserID:      payload.AuthorID,
			CommunityID: payload.CommunityID,
			Handle:      payload.Handle,
		})
		return nil
	}

	key := sessionKey{user: payload.AuthorID, community: payload.CommunityID}
	s.mu.Lock()
	active, ok := s.active[key]
	var channelID string
	if ok {
		channelID = active.channel.ID
	}
	s.mu.Unlock()
	if !ok || channelID != payload.ChannelID {
		return nil
	}

	select {
	case active.inbox <- inboundAnswer{messageID: payload.MessageID, text: payload.Text}:
	default:
		s.logger.Warn("session inbox full, dropping message",
			zap.Int64("user_id", int64(payload.AuthorID)),
			zap.String("channel_id", payload.ChannelID))
	}
	return nil
}

// StartVerification begins an interview for the member unless one is
// already running for the same (member, community) pair.
func (s *VerifierService) StartVerification(member domain.Member) {
	key := sessionKey{user: member.UserID, community: member.CommunityID}

	ctx := s.baseCtx
	var cancel context.CancelFunc
	if s.cfg.SessionTimeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SessionTimeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}

	s.mu.Lock()
	if _, exists := s.active[key]; exists {
		s.mu.Unlock()
		cancel()
		s.logger.Debug("verification already in progress",
			zap.Int64("user_id", int64(member.UserID)),
			zap.Int64("community_id", int64(member.CommunityID)))
		return
	}
	active := &activeSession{
		member: member,
		inbox:  make(chan inboundAnswer, 8),
		cancel: cancel,
	}
	s.active[key] = active
	s.mu.Unlock()

	s.metrics.Inc(observability.CounterSessionsStarted)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()
		defer func() {
			s.mu.Lock()
			delete(s.active, key)
			s.mu.Unlock()
		}()
		s.runVerification(ctx, active)
	}()
}

func (s *VerifierService) runVerification(ctx context.Context, active *activeSession) {
	member := active.member
	logger := s.logger.With(
		zap.Int64("user_id", int64(member.UserID)),
		zap.Int64("community_id", int64(member.CommunityID)))

	channel, err := s.gateway.CreateScopedChannel(ctx, member.CommunityID, member, s.channelName(member))
	if err != nil {
		logger.Error("create scoped channel failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	active.channel = channel
	s.mu.Unlock()

	s.send(ctx, channel.ID, fmt.Sprintf("Hello %s \U0001F44B! Welcome to the community!", member.Handle))
	s.send(ctx, channel.ID, "Answer the questions strictly on the basis of your registration ✍ to avoid your membership application being rejected")

	sess := session.New(member, s.questions)

	for i := 1; sess.AwaitingAnswers(); {
		q, _ := sess.Current()
		s.send(ctx, channel.ID, fmt.Sprintf("`%d` %s", i, q.Prompt))

		var answer inboundAnswer
		select {
		case answer = <-active.inbox:
		case <-ctx.Done():
			s.abandon(channel, member, ctx.Err(), logger)
			return
		}

		if sess.Submit(answer.text) {
			s.react(ctx, channel.ID, answer.messageID, reactionAccepted)
			i++
		} else {
			s.react(ctx, channel.ID, answer.messageID, reactionRejected)
			s.metrics.Inc(observability.CounterAnswersRejected)
		}
	}

	decision, err := sess.Decide(ctx, s.Roster(), s.registry)
	if err != nil {
		// Acceptance stands; the registry already alerted operators.
		logger.Warn("membership persisted in memory only", zap.Error(err))
	}

	if decision.Outcome == session.OutcomeAccepted {
		s.conclude(ctx, channel, member, decision, logger)
	} else {
		s.refuse(ctx, channel, member, decision, logger)
	}
}

func (s *VerifierService) conclude(ctx context.Context, channel platform.Channel, member domain.Member, decision session.Decision, logger *zap.Logger) {
	if err := s.gateway.SetNickname(ctx, member.CommunityID, member.UserID, decision.Nickname); err != nil {
		logger.Warn("set nickname failed", zap.Error(err))
	}
	if err := s.gateway.GrantRole(ctx, member.CommunityID, member.UserID, s.cfg.VerifiedRole); err != nil {
		logger.Error("grant role failed", zap.Error(err))
	}
	s.send(ctx, channel.ID, "Verification successful! You are now a member of the community \U0001F525")

	s.metrics.Inc(observability.CounterSessionsAccepted)
	s.publishResult(ctx, events.EventVerificationAccepted, member, decision)
	logger.Info("verification accepted",
		zap.String("registration_id", decision.RegistrationID),
		zap.String("nickname", decision.Nickname))

	// Let the member read the notice before the channel disappears.
	sleep(ctx, s.cfg.SuccessDelay)
	s.teardown(channel, logger)
}

func (s *VerifierService) refuse(ctx context.Context, channel platform.Channel, member domain.Member, decision session.Decision, logger *zap.Logger) {
	s.send(ctx, channel.ID, "Verification failed❗ Contact the admin for further queries")
	s.send(ctx, channel.ID, "This channel will be deleted in a minute.")

	s.metrics.Inc(observability.CounterSessionsRejected)
	s.publishResult(ctx, events.EventVerificationRejected, member, decision)
	logger.Info("verification rejected", zap.String("reason", decision.Reason))

	sleep(ctx, s.cfg.FailureDelay)
	s.teardown(channel, logger)
}

func (s *VerifierService) abandon(channel platform.Channel, member domain.Member, cause error, logger *zap.Logger) {
	s.metrics.Inc(observability.CounterSessionsAbandoned)
	reason := "cancelled"
	if cause != nil {
		reason = cause.Error()
	}
	_ = s.dispatcher.Publish(context.Background(), events.Event{
		ID:        uuid.NewString(),
		Type:      events.EventSessionAbandoned,
		Timestamp: time.Now(),
		Payload: events.SessionAbandonedPayload{
			UserID:      member.UserID,
			CommunityID: member.CommunityID,
			Reason:      reason,
		},
	})
	logger.Info("session abandoned", zap.String("reason", reason))
	s.teardown(channel, logger)
}

// teardown deletes the scoped channel on a fresh context: the session's
// own context may already be cancelled.
func (s *VerifierService) teardown(channel platform.Channel, logger *zap.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.gateway.DeleteChannel(ctx, channel.ID); err != nil {
		logger.Warn("delete channel failed", zap.String("channel_id", channel.ID), zap.Error(err))
	}
}

func (s *VerifierService) publishResult(ctx context.Context, eventType events.EventType, member domain.Member, decision session.Decision) {
	_ = s.dispatcher.Publish(ctx, events.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now(),
		Payload: events.VerificationResultPayload{
			UserID:         member.UserID,
			CommunityID:    member.CommunityID,
			RegistrationID: decision.RegistrationID,
			Reason:         decision.Reason,
		},
	})
}

func (s *VerifierService) send(ctx context.Context, channelID, text string) {
	if _, err := s.gateway.SendMessage(ctx, channelID, text); err != nil {
		s.logger.Warn("send message failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (s *VerifierService) react(ctx context.Context, channelID, messageID, emoji string) {
	if messageID == "" {
		return
	}
	if err := s.gateway.React(ctx, channelID, messageID, emoji); err != nil {
		s.logger.Warn("react failed", zap.String("channel_id", channelID), zap.Error(err))
	}
}

func (s *VerifierService) channelName(member domain.Member) string {
	handle := strings.ReplaceAll(member.Handle, "#", "_")
	if handle == "" {
		handle = fmt.Sprintf("%d", member.UserID)
	}
	return s.cfg.ChannelPrefix + handle
}

func sleep(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
