package domain

// UserID identifies a platform user. CommunityID identifies an
// independently administered community (guild/server).
type (
	UserID      int64
	CommunityID int64
)

// Membership records which communities a verified user belongs to
// through this system. A record exists iff Communities is non-empty.
type Membership struct {
	UserID         UserID
	RegistrationID string
	Communities    []CommunityID
}

// InCommunity reports whether the membership covers the community.
func (m Membership) InCommunity(id CommunityID) bool {
	for _, c := range m.Communities {
		if c == id {
			return true
		}
	}
	return false
}

// Member is the platform-side identity the orchestrator works with.
type Member struct {
	UserID      UserID
	CommunityID CommunityID
	Handle      string
}
