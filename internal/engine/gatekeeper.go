package engine

import (
	"time"

	"github.com/BTreeMap/MomentPipe/internal/models"
)

// isNotificationCandidate decides whether a resolved moment may page the user.
//
// All four conditions must hold: the moment's kind allows notifications, it is
// high or critical priority, it has at least MinTimeToExpiry left to act on,
// and its id is outside the cooldown window.
func isNotificationCandidate(m models.Moment, now time.Time, history models.NotificationHistory) bool {
	if !m.NotifyEligible {
		return false
	}
	if m.Priority < models.PriorityHigh {
		return false
	}
	if m.Expiry().Sub(now) < MinTimeToExpiry {
		return false
	}
	if last, ok := history[m.ID]; ok {
		if now.Sub(time.UnixMilli(last)) < NotificationCooldown {
			return false
		}
	}
	return true
}
