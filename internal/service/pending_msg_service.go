package service

import (
	"tg-letthemknow/internal/models"
)

// EnqueuePendingMsg stores a message for later delivery
func EnqueuePendingMsg(pm *models.PendingMessage) error {
	return pendingMsgRepository.Enqueue(pm)
}

// DrainPendingMsgs atomically removes and returns all messages waiting for
// the recipient in the chat, oldest first
func DrainPendingMsgs(recipientID, chatID int64) ([]models.PendingMessage, error) {
	return pendingMsgRepository.Drain(recipientID, chatID)
}
