package domain

import "time"

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelInApp Channel = "inapp"
)

type Notification struct {
	ID        string             `json:"id"`
	UserID    string             `json:"userId"`
	Type      string             `json:"type"`
	Title     string             `json:"title"`
	Message   string             `json:"message"`
	Channel   Channel            `json:"channel"`
	Status    NotificationStatus `json:"status"`
	Attempts  int                `json:"attempts"`
	LastError string             `json:"lastError,omitempty"`
	SentAt    *time.Time         `json:"sentAt,omitempty"`
	CreatedAt time.Time          `json:"createdAt"`
	UpdatedAt time.Time          `json:"updatedAt"`
}

func (n Notification) Clone() Notification {
	out := n
	if n.SentAt != nil {
		t := *n.SentAt
		out.SentAt = &t
	}
	return out
}
