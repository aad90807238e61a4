package storage

import (
	"tg-letthemknow/internal/models"

	"gorm.io/gorm"
)

// PendingMsgRepository handles database operations for PendingMessage
type PendingMsgRepository struct {
	db *gorm.DB
}

// NewPendingMsgRepository creates a new PendingMsgRepository
func NewPendingMsgRepository(db *gorm.DB) *PendingMsgRepository {
	return &PendingMsgRepository{db: db}
}

// MigrateTable ensures the PendingMessage table exists
func (r *PendingMsgRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.PendingMessage{})
}

// Enqueue appends a pending message
func (r *PendingMsgRepository) Enqueue(pm *models.PendingMessage) error {
	return r.db.Create(pm).Error
}

// Drain returns all messages pending for the recipient in the chat, oldest
// first, and removes them in the same transaction. Each row is claimed by
// a compare-and-delete: a row only appears in the result when our delete
// actually removed it, so two concurrent drains can never both return the
// same message.
func (r *PendingMsgRepository) Drain(recipientID, chatID int64) ([]models.PendingMessage, error) {
	var drained []models.PendingMessage
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var rows []models.PendingMessage
		if err := tx.Where("recipient_id = ? AND chat_id = ?", recipientID, chatID).
			Order("id asc").
			Find(&rows).Error; err != nil {
			return err
		}

		for _, row := range rows {
			result := tx.Delete(&models.PendingMessage{}, row.ID)
			if result.Error != nil {
				return result.Error
			}
			// zero rows affected means another drain got here first
			if result.RowsAffected == 1 {
				drained = append(drained, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return drained, nil
}
