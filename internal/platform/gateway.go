// Package platform abstracts the chat-platform capabilities the bot
// consumes. Message delivery itself arrives through the webhook ingress;
// this package covers the outbound actions.
package platform

import (
	"context"

	"github.com/spec-kit/membership-bot/internal/domain"
)

// Channel is a handle to a platform text channel.
type Channel struct {
	ID   string
	Name string
}

// Gateway is the outbound capability surface of the chat platform.
type Gateway interface {
	// CreateScopedChannel opens a channel visible only to the member and
	// the bot, used to conduct a private interview.
	CreateScopedChannel(ctx context.Context, communityID domain.CommunityID, member domain.Member, name string) (Channel, error)
	SendMessage(ctx context.Context, channelID, text string) (string, error)
	React(ctx context.Context, channelID, messageID, emoji string) error
	SetNickname(ctx context.Context, communityID domain.CommunityID, userID domain.UserID, nickname string) error
	GrantRole(ctx context.Context, communityID domain.CommunityID, userID domain.UserID, roleName string) error
	DeleteChannel(ctx context.Context, channelID string) error
}
