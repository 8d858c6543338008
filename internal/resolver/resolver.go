// Package resolver ranks, filters, and caps candidate moments.
package resolver

import (
	"sort"

	"github.com/BTreeMap/MomentPipe/internal/models"
)

// MaxMoments is the hard cap on resolved moments per cycle. The UI and
// notification layer never see more than this many.
const MaxMoments = 4

// Resolve reduces the candidate set to a ranked, deduplicated subset.
//
// A critical candidate suppresses everything below high priority; survivors
// are sorted by priority descending, then soonest expiry first, and capped
// at MaxMoments. The input slice is not modified.
func Resolve(candidates []models.Moment) []models.Moment {
	if len(candidates) == 0 {
		return nil
	}

	hasCritical := false
	for _, m := range candidates {
		if m.Priority >= models.PriorityCritical {
			hasCritical = true
			break
		}
	}

	resolved := make([]models.Moment, 0, len(candidates))
	for _, m := range candidates {
		if hasCritical && m.Priority < models.PriorityHigh {
			continue
		}
		resolved = append(resolved, m)
	}

	sort.SliceStable(resolved, func(i, j int) bool {
		if resolved[i].Priority != resolved[j].Priority {
			return resolved[i].Priority > resolved[j].Priority
		}
		return resolved[i].ExpiresAt < resolved[j].ExpiresAt
	})

	if len(resolved) > MaxMoments {
		resolved = resolved[:MaxMoments]
	}
	return resolved
}
