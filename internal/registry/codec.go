package registry

import (
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spec-kit/membership-bot/internal/domain"
)

// Column names of the registry table.
const (
	colUserID       = "id"
	colRegistration = "roll-no"
	colCommunities  = "guilds"
)

func parseTable(content string) (map[domain.UserID]*domain.Membership, error) {
	reader := csv.NewReader(strings.NewReader(content))
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("missing header row")
	}

	idx := make(map[string]int, len(rows[0]))
	for i, col := range rows[0] {
		idx[strings.TrimSpace(col)] = i
	}
	for _, col := range []string{colUserID, colRegistration, colCommunities} {
		if _, ok := idx[col]; !ok {
			return nil, fmt.Errorf("missing required column %q", col)
		}
	}

	members := make(map[domain.UserID]*domain.Membership, len(rows)-1)
	for _, row := range rows[1:] {
		userID, err := strconv.ParseInt(row[idx[colUserID]], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q: %w", row[idx[colUserID]], err)
		}

		var communities []domain.CommunityID
		for _, raw := range strings.Split(row[idx[colCommunities]], ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			id, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid community id %q: %w", raw, err)
			}
			communities = append(communities, domain.CommunityID(id))
		}
		if len(communities) == 0 {
			// A record with no communities must not exist at all.
			return nil, fmt.Errorf("user %d has an empty community list", userID)
		}

		members[domain.UserID(userID)] = &domain.Membership{
			UserID:         domain.UserID(userID),
			RegistrationID: row[idx[colRegistration]],
			Communities:    communities,
		}
	}

	return members, nil
}

func marshalTable(members map[domain.UserID]*domain.Membership) string {
	ids := make([]domain.UserID, 0, len(members))
	for id := range members {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var sb strings.Builder
	writer := csv.NewWriter(&sb)
	_ = writer.Write([]string{colUserID, colRegistration, colCommunities})

	for _, id := range ids {
		rec := members[id]
		communities := make([]string, 0, len(rec.Communities))
		for _, c := range rec.Communities {
			communities = append(communities, strconv.FormatInt(int64(c), 10))
		}
		_ = writer.Write([]string{
			strconv.FormatInt(int64(id), 10),
			rec.RegistrationID,
			strings.Join(communities, ","),
		})
	}

	writer.Flush()
	return sb.String()
}
