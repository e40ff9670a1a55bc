package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/membership-bot/internal/domain"
	"github.com/spec-kit/membership-bot/internal/events"
	"github.com/spec-kit/membership-bot/internal/store"
)

// How often a conflicting overwrite is retried before the failure is
// surfaced to operators. Each retry re-derives the content from memory
// against a freshly fetched version.
const maxPersistAttempts = 3

// LoadError indicates the registry source was unreachable or malformed.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load registry %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Registry is the live record of which platform users are verified in
// which communities. It is shared by all verification sessions and the
// departure handler; every mutation and its persistence round trip runs
// under one mutex so overlapping writers cannot publish stale data.
type Registry struct {
	mu         sync.Mutex
	members    map[domain.UserID]*domain.Membership
	docs       store.DocumentStore
	path       string
	version    string
	dispatcher events.Dispatcher
	logger     *zap.Logger
}

// Load fetches and parses the registry table from the record store.
func Load(ctx context.Context, docs store.DocumentStore, path string, dispatcher events.Dispatcher, logger *zap.Logger) (*Registry, error) {
	doc, err := docs.Fetch(ctx, path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	members, err := parseTable(doc.Content)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	logger.Info("registry loaded", zap.String("path", path), zap.Int("members", len(members)))
	return &Registry{
		members:    members,
		docs:       docs,
		path:       path,
		version:    doc.Version,
		dispatcher: dispatcher,
		logger:     logger,
	}, nil
}

// IsBoundElsewhere reports whether a user other than self already holds
// the registration id within the community. The same user re-verifying
// is not a duplicate.
func (r *Registry) IsBoundElsewhere(self domain.UserID, communityID domain.CommunityID, registrationID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, rec := range r.members {
		if id == self {
			continue
		}
		if rec.RegistrationID == registrationID && rec.InCommunity(communityID) {
			return true
		}
	}
	return false
}

// Bind ensures the user is recorded as a member of the community,
// creating the record if absent. Idempotent: re-binding an existing
// membership changes nothing and skips persistence. The persisted copy
// is updated before Bind returns.
func (r *Registry) Bind(ctx context.Context, userID domain.UserID, registrationID string, communityID domain.CommunityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.members[userID]
	if !ok {
		rec = &domain.Membership{UserID: userID, RegistrationID: registrationID}
		r.members[userID] = rec
	}
	if rec.InCommunity(communityID) {
		return nil
	}
	rec.Communities = append(rec.Communities, communityID)

	return r.persistLocked(ctx)
}

// Unbind removes the community from the user's set and deletes the
// record when the set empties. A missing record or absent community is
// a no-op, not an error.
func (r *Registry) Unbind(ctx context.Context, userID domain.UserID, communityID domain.CommunityID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.members[userID]
	if !ok {
		return nil
	}

	changed := false
	kept := rec.Communities[:0]
	for _, c := range rec.Communities {
		if c == communityID {
			changed = true
			continue
		}
		kept = append(kept, c)
	}
	if !changed {
		return nil
	}
	rec.Communities = kept
	if len(rec.Communities) == 0 {
		delete(r.members, userID)
	}

	return r.persistLocked(ctx)
}

// Lookup returns a copy of the user's membership record.
func (r *Registry) Lookup(userID domain.UserID) (domain.Membership, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.members[userID]
	if !ok {
		return domain.Membership{}, false
	}
	out := *rec
	out.Communities = append([]domain.CommunityID(nil), rec.Communities...)
	return out, true
}

// Snapshot returns all membership records ordered by user id.
func (r *Registry) Snapshot() []domain.Membership {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.Membership, 0, len(r.members))
	for _, rec := range r.members {
		cp := *rec
		cp.Communities = append([]domain.CommunityID(nil), rec.Communities...)
		out = append(out, cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

// persistLocked overwrites the remote table with the in-memory state.
// Callers must hold r.mu. A version conflict triggers a re-fetch and a
// fresh overwrite; after retries are exhausted the failure is logged
// and published for operators, never swallowed.
func (r *Registry) persistLocked(ctx context.Context) error {
	content := marshalTable(r.members)

	var lastErr error
	for attempt := 1; attempt <= maxPersistAttempts; attempt++ {
		version, err := r.docs.Overwrite(ctx, r.path, content, r.version)
		if err == nil {
			r.version = version
			return nil
		}
		lastErr = err

		if !errors.Is(err, store.ErrConflict) {
			break
		}

		r.logger.Warn("registry persist conflict, refetching",
			zap.String("path", r.path), zap.Int("attempt", attempt))
		doc, fetchErr := r.docs.Fetch(ctx, r.path)
		if fetchErr != nil {
			lastErr = fetchErr
			break
		}
		r.version = doc.Version
	}

	r.logger.Error("registry persist failed, memory and store diverged",
		zap.String("path", r.path), zap.Error(lastErr))
	if r.dispatcher != nil {
		_ = r.dispatcher.Publish(ctx, events.Event{
			ID:        uuid.NewString(),
			Type:      events.EventPersistFailed,
			Timestamp: time.Now(),
			Payload: events.PersistFailedPayload{
				Path:     r.path,
				Attempts: maxPersistAttempts,
				Error:    lastErr.Error(),
			},
		})
	}
	return fmt.Errorf("persist registry %s: %w", r.path, lastErr)
}
