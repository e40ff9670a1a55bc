package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/config"
	"github.com/spec-kit/membership-bot/internal/domain"
	"github.com/spec-kit/membership-bot/internal/events"
	"github.com/spec-kit/membership-bot/internal/observability"
	"github.com/spec-kit/membership-bot/internal/platform"
	"github.com/spec-kit/membership-bot/internal/registry"
	"github.com/spec-kit/membership-bot/internal/roster"
	"github.com/spec-kit/membership-bot/internal/store"
)

const waitTimeout = 2 * time.Second

// fakeGateway records outbound platform actions and signals interview
// progress through channels.
type fakeGateway struct {
	mu        sync.Mutex
	created   chan platform.Channel
	prompts   chan string
	deleted   chan string
	sent      []string
	reactions []string
	nicknames map[domain.UserID]string
	roles     []string
	nextMsg   int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		created:   make(chan platform.Channel, 4),
		prompts:   make(chan string, 16),
		deleted:   make(chan string, 4),
		nicknames: make(map[domain.UserID]string),
	}
}

func (g *fakeGateway) CreateScopedChannel(ctx context.Context, communityID domain.CommunityID, member domain.Member, name string) (platform.Channel, error) {
	ch := platform.Channel{ID: "chan-" + name, Name: name}
	g.created <- ch
	return ch, nil
}

func (g *fakeGateway) SendMessage(ctx context.Context, channelID, text string) (string, error) {
	g.mu.Lock()
	g.sent = append(g.sent, text)
	g.nextMsg++
	id := fmt.Sprintf("m%d", g.nextMsg)
	g.mu.Unlock()

	if strings.HasPrefix(text, "`") {
		g.prompts <- text
	}
	return id, nil
}

func (g *fakeGateway) React(ctx context.Context, channelID, messageID, emoji string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.reactions = append(g.reactions, emoji)
	return nil
}

func (g *fakeGateway) SetNickname(ctx context.Context, communityID domain.CommunityID, userID domain.UserID, nickname string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nicknames[userID] = nickname
	return nil
}

func (g *fakeGateway) GrantRole(ctx context.Context, communityID domain.CommunityID, userID domain.UserID, roleName string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.roles = append(g.roles, roleName)
	return nil
}

func (g *fakeGateway) DeleteChannel(ctx context.Context, channelID string) error {
	g.deleted <- channelID
	return nil
}

func (g *fakeGateway) grantedRoles() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.roles...)
}

func testVerifyConfig() config.VerifyConfig {
	return config.VerifyConfig{
		CommandToken:        "$verify",
		CommandChannel:      "membership-verification",
		VerifiedRole:        "member",
		ChannelPrefix:       "verify-",
		NamePattern:         `^[a-zA-Z0-9\s]+$`,
		RegistrationPattern: `^(CSE|ECE|ME|CE|EE)/20/[0-4][0-9]$`,
		EmailPattern:        `^[A-Za-z0-9.]+[@]x.org$`,
	}
}

type verifierFixture struct {
	verifier   *VerifierService
	gateway    *fakeGateway
	registry   *registry.Registry
	dispatcher events.Dispatcher
	docs       *store.MemoryStore
	cancel     context.CancelFunc
}

func newVerifierFixture(t *testing.T, cfg config.VerifyConfig, registryCSV string) *verifierFixture {
	t.Helper()

	docs := store.NewMemoryStore()
	docs.Seed("students.csv", "roll-no,name,email\nCSE/20/38,john doe,john@x.org\n")
	docs.Seed("members.csv", registryCSV)

	logger := zap.NewNop()
	dispatcher := events.NewInMemoryDispatcher(zap.NewNop())

	ros, err := roster.Load(context.Background(), docs, "students.csv", logger)
	require.NoError(t, err)
	reg, err := registry.Load(context.Background(), docs, "members.csv", dispatcher, logger)
	require.NoError(t, err)

	gateway := newFakeGateway()
	verifier, err := NewVerifierService(cfg, VerifierDependencies{
		Gateway:    gateway,
		Roster:     ros,
		Registry:   reg,
		Dispatcher: dispatcher,
		Metrics:    observability.NewMetrics(),
		Logger:     logger,
		Docs:       docs,
		RosterPath: "students.csv",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	verifier.Start(ctx)
	t.Cleanup(func() {
		cancel()
		verifier.Wait()
	})

	return &verifierFixture{
		verifier:   verifier,
		gateway:    gateway,
		registry:   reg,
		dispatcher: dispatcher,
		docs:       docs,
		cancel:     cancel,
	}
}

func (f *verifierFixture) join(t *testing.T, userID domain.UserID, communityID domain.CommunityID, handle string) {
	t.Helper()
	require.NoError(t, f.dispatcher.Publish(context.Background(), events.Event{
		ID:   uuid.NewString(),
		Type: events.EventMemberJoined,
		Payload: events.MemberJoinedPayload{
			UserID:      userID,
			CommunityID: communityID,
			Handle:      handle,
		},
	}))
}

func (f *verifierFixture) answer(t *testing.T, userID domain.UserID, communityID domain.CommunityID, channelID, text string) {
	t.Helper()
	require.NoError(t, f.dispatcher.Publish(context.Background(), events.Event{
		ID:   uuid.NewString(),
		Type: events.EventMessageReceived,
		Payload: events.MessageReceivedPayload{
			AuthorID:    userID,
			CommunityID: communityID,
			ChannelID:   channelID,
			ChannelName: "ignored",
			MessageID:   uuid.NewString(),
			Text:        text,
		},
	}))
}

func awaitSignal[T any](t *testing.T, ch chan T, what string) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for %s", what)
		var zero T
		return zero
	}
}

func TestVerificationAccepted(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n")

	accepted := make(chan events.Event, 1)
	f.dispatcher.Subscribe(events.EventVerificationAccepted, func(ctx context.Context, event events.Event) error {
		accepted <- event
		return nil
	})

	f.join(t, 42, 7, "john#123")
	channel := awaitSignal(t, f.gateway.created, "scoped channel")
	assert.Equal(t, "chan-verify-john_123", channel.ID)

	for _, text := range []string{"John Doe", "CSE/20/38", "john@x.org"} {
		awaitSignal(t, f.gateway.prompts, "prompt")
		f.answer(t, 42, 7, channel.ID, text)
	}

	awaitSignal(t, f.gateway.deleted, "channel teardown")
	awaitSignal(t, accepted, "accepted event")

	rec, ok := f.registry.Lookup(42)
	require.True(t, ok)
	assert.Equal(t, "CSE/20/38", rec.RegistrationID)
	assert.Equal(t, []domain.CommunityID{7}, rec.Communities)

	assert.Equal(t, []string{"member"}, f.gateway.grantedRoles())
	assert.Equal(t, "John_CSE20", f.gateway.nicknames[42])

	doc, err := f.docs.Fetch(context.Background(), "members.csv")
	require.NoError(t, err)
	assert.Contains(t, doc.Content, "42,CSE/20/38,7")
}

func TestVerificationRejectedWrongEmail(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n")

	f.join(t, 42, 7, "john#123")
	channel := awaitSignal(t, f.gateway.created, "scoped channel")

	for _, text := range []string{"John Doe", "CSE/20/38", "wrong@x.org"} {
		awaitSignal(t, f.gateway.prompts, "prompt")
		f.answer(t, 42, 7, channel.ID, text)
	}

	awaitSignal(t, f.gateway.deleted, "channel teardown")

	_, ok := f.registry.Lookup(42)
	assert.False(t, ok)
	assert.Empty(t, f.gateway.grantedRoles())
}

func TestFailedAnswerReprompts(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n")

	f.join(t, 42, 7, "john#123")
	channel := awaitSignal(t, f.gateway.created, "scoped channel")

	// invalid name is rejected and the same question is asked again
	awaitSignal(t, f.gateway.prompts, "first prompt")
	f.answer(t, 42, 7, channel.ID, "john@doe!")
	reprompt := awaitSignal(t, f.gateway.prompts, "reprompt")
	assert.True(t, strings.HasPrefix(reprompt, "`1`"))

	for _, text := range []string{"John Doe", "CSE/20/38", "john@x.org"} {
		f.answer(t, 42, 7, channel.ID, text)
		if text != "john@x.org" {
			awaitSignal(t, f.gateway.prompts, "next prompt")
		}
	}

	awaitSignal(t, f.gateway.deleted, "channel teardown")

	_, ok := f.registry.Lookup(42)
	assert.True(t, ok)
}

func TestAnswersFromElsewhereIgnored(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n")

	f.join(t, 42, 7, "john#123")
	channel := awaitSignal(t, f.gateway.created, "scoped channel")

	awaitSignal(t, f.gateway.prompts, "prompt")
	// wrong author and wrong channel are both silently dropped
	f.answer(t, 99, 7, channel.ID, "John Doe")
	f.answer(t, 42, 7, "other-channel", "John Doe")

	f.answer(t, 42, 7, channel.ID, "John Doe")
	for _, text := range []string{"CSE/20/38", "john@x.org"} {
		awaitSignal(t, f.gateway.prompts, "prompt")
		f.answer(t, 42, 7, channel.ID, text)
	}

	awaitSignal(t, f.gateway.deleted, "channel teardown")

	rec, ok := f.registry.Lookup(42)
	require.True(t, ok)
	assert.Equal(t, "CSE/20/38", rec.RegistrationID)
}

func TestVerifyCommandTrigger(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n")

	require.NoError(t, f.dispatcher.Publish(context.Background(), events.Event{
		ID:   uuid.NewString(),
		Type: events.EventMessageReceived,
		Payload: events.MessageReceivedPayload{
			AuthorID:    42,
			CommunityID: 7,
			ChannelID:   "public-1",
			ChannelName: "membership-verification",
			Text:        "$verify",
			Handle:      "john#123",
		},
	}))

	channel := awaitSignal(t, f.gateway.created, "scoped channel")
	assert.Equal(t, "chan-verify-john_123", channel.ID)
}

func TestCommandOutsideDesignatedChannelIgnored(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n")

	require.NoError(t, f.dispatcher.Publish(context.Background(), events.Event{
		ID:   uuid.NewString(),
		Type: events.EventMessageReceived,
		Payload: events.MessageReceivedPayload{
			AuthorID:    42,
			CommunityID: 7,
			ChannelID:   "public-2",
			ChannelName: "general",
			Text:        "$verify",
		},
	}))

	select {
	case <-f.gateway.created:
		t.Fatal("no session should start outside the designated channel")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemberLeftAbandonsSessionAndUnbinds(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n41,ECE/20/01,7\n")

	abandoned := make(chan events.Event, 1)
	f.dispatcher.Subscribe(events.EventSessionAbandoned, func(ctx context.Context, event events.Event) error {
		abandoned <- event
		return nil
	})

	f.join(t, 42, 7, "john#123")
	awaitSignal(t, f.gateway.created, "scoped channel")
	awaitSignal(t, f.gateway.prompts, "prompt")

	require.NoError(t, f.dispatcher.Publish(context.Background(), events.Event{
		ID:      uuid.NewString(),
		Type:    events.EventMemberLeft,
		Payload: events.MemberLeftPayload{UserID: 42, CommunityID: 7},
	}))

	awaitSignal(t, f.gateway.deleted, "channel teardown")
	awaitSignal(t, abandoned, "abandoned event")

	_, ok := f.registry.Lookup(42)
	assert.False(t, ok)
}

func TestMemberLeftUnbindsLastCommunity(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n41,ECE/20/01,7\n")

	require.NoError(t, f.dispatcher.Publish(context.Background(), events.Event{
		ID:      uuid.NewString(),
		Type:    events.EventMemberLeft,
		Payload: events.MemberLeftPayload{UserID: 41, CommunityID: 7},
	}))

	_, ok := f.registry.Lookup(41)
	assert.False(t, ok)
}

func TestDuplicateSessionIgnored(t *testing.T) {
	f := newVerifierFixture(t, testVerifyConfig(), "id,roll-no,guilds\n")

	f.join(t, 42, 7, "john#123")
	channel := awaitSignal(t, f.gateway.created, "scoped channel")
	awaitSignal(t, f.gateway.prompts, "prompt")

	// a second trigger while the interview is running is a no-op
	f.join(t, 42, 7, "john#123")

	select {
	case <-f.gateway.created:
		t.Fatal("second session should not start")
	case <-time.After(100 * time.Millisecond):
	}

	for i, text := range []string{"John Doe", "CSE/20/38", "john@x.org"} {
		if i > 0 {
			awaitSignal(t, f.gateway.prompts, "prompt")
		}
		f.answer(t, 42, 7, channel.ID, text)
	}
	awaitSignal(t, f.gateway.deleted, "channel teardown")
}

func TestSessionTimeoutAbandons(t *testing.T) {
	cfg := testVerifyConfig()
	cfg.SessionTimeout = 50 * time.Millisecond
	f := newVerifierFixture(t, cfg, "id,roll-no,guilds\n")

	f.join(t, 42, 7, "john#123")
	awaitSignal(t, f.gateway.created, "scoped channel")

	awaitSignal(t, f.gateway.deleted, "channel teardown")

	_, ok := f.registry.Lookup(42)
	assert.False(t, ok)
}
