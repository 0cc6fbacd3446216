package domain

import "time"

// FollowUpStatus is the lifecycle state of a FollowUp.
type FollowUpStatus string

const (
	FollowUpPending   FollowUpStatus = "pending"
	FollowUpSent      FollowUpStatus = "sent"
	FollowUpCancelled FollowUpStatus = "cancelled"
	FollowUpEscalated FollowUpStatus = "escalated"
	FollowUpFailed    FollowUpStatus = "failed"
)

// FinalTier is the tier that escalates instead of sending a message.
const FinalTier = 3

// FollowUp is a scheduled re-engagement attempt.
type FollowUp struct {
	ID          string         `json:"id"`
	SessionID   string         `json:"sessionId"`
	Tier        int            `json:"tier"`
	Status      FollowUpStatus `json:"status"`
	Template    string         `json:"template,omitempty"`
	ScheduledAt time.Time      `json:"scheduledAt"`
	CreatedAt   time.Time      `json:"createdAt"`
	UpdatedAt   time.Time      `json:"updatedAt"`
	Error       string         `json:"error,omitempty"`
}

// Pending reports whether the follow-up is still waiting to fire.
func (f FollowUp) Pending() bool { return f.Status == FollowUpPending }

// Due reports whether a pending follow-up should fire at now.
func (f FollowUp) Due(now time.Time) bool {
	return f.Pending() && !f.ScheduledAt.After(now)
}

// Close moves the follow-up to a terminal status.
func (f *FollowUp) Close(status FollowUpStatus, now time.Time) {
	f.Status = status
	f.UpdatedAt = now
}
