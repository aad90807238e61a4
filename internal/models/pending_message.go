package models

import "time"

// PendingMessage is one message waiting for its recipient to show up in the
// origin chat. SenderName is a snapshot taken at compose time; a later
// rename of the sender does not change the delivered notice.
type PendingMessage struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time

	RecipientID int64 `gorm:"index:idx_recipient_chat"`
	ChatID      int64 `gorm:"index:idx_recipient_chat"`
	MessageID   int
	SenderName  string
	Body        string
}
