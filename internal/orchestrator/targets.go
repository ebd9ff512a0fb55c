package orchestrator

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/campaign-orchestrator/internal/domain"
)

// ContactSource is the slice of the contact store the resolver needs.
type ContactSource interface {
	ActiveIDs(ctx context.Context, ids []uuid.UUID) ([]uuid.UUID, error)
	ActiveIDsInList(ctx context.Context, listID uuid.UUID, limit int) ([]uuid.UUID, error)
	ActiveIDsByTags(ctx context.Context, tags []string) ([]uuid.UUID, error)
}

// resolveTargets expands a targeting rule into a deterministic, deduplicated
// list of active contact ids. Explicit ids come first in their given order,
// then each list in order subject to max_per_list, then tag matches. A
// contact selected by several sources is kept at its first position only.
// max_total caps the combined result.
func resolveTargets(ctx context.Context, contacts ContactSource, t domain.Targeting) ([]uuid.UUID, error) {
	if t.IsEmpty() {
		return nil, ErrNoRecipients
	}

	seen := make(map[uuid.UUID]bool)
	var out []uuid.UUID
	add := func(ids []uuid.UUID) {
		for _, id := range ids {
			if !seen[id] {
				seen[id] = true
				out = append(out, id)
			}
		}
	}

	if len(t.ContactIDs) > 0 {
		active, err := contacts.ActiveIDs(ctx, t.ContactIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve explicit contacts: %w", err)
		}
		// ActiveIDs gives no order guarantee; keep the targeting order.
		activeSet := make(map[uuid.UUID]bool, len(active))
		for _, id := range active {
			activeSet[id] = true
		}
		ordered := make([]uuid.UUID, 0, len(active))
		for _, id := range t.ContactIDs {
			if activeSet[id] {
				ordered = append(ordered, id)
			}
		}
		add(ordered)
	}

	for _, listID := range t.ListIDs {
		members, err := contacts.ActiveIDsInList(ctx, listID, t.MaxPerList)
		if err != nil {
			return nil, fmt.Errorf("resolve list %s: %w", listID, err)
		}
		add(members)
	}

	if len(t.Tags) > 0 {
		tagged, err := contacts.ActiveIDsByTags(ctx, t.Tags)
		if err != nil {
			return nil, fmt.Errorf("resolve tags: %w", err)
		}
		add(tagged)
	}

	if t.MaxTotal > 0 && len(out) > t.MaxTotal {
		out = out[:t.MaxTotal]
	}

	if len(out) == 0 {
		return nil, ErrNoRecipients
	}
	return out, nil
}
