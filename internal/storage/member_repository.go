package storage

import (
	"errors"
	"fmt"

	"tg-letthemknow/internal/models"

	"gorm.io/gorm"
)

// ErrMemberNotFound is returned when a user id has no directory row. Menu
// entries always originate from the directory, so hitting this on a menu
// selection is an invariant violation, not a user error.
var ErrMemberNotFound = errors.New("chat member not found")

// MemberRepository handles database operations for ChatMember
type MemberRepository struct {
	db *gorm.DB
}

// NewMemberRepository creates a new MemberRepository
func NewMemberRepository(db *gorm.DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// MigrateTable ensures the ChatMember table exists
func (r *MemberRepository) MigrateTable() error {
	return r.db.AutoMigrate(&models.ChatMember{})
}

// IsKnown checks whether the user is already recorded in the chat
func (r *MemberRepository) IsKnown(chatID, userID int64) (bool, error) {
	var count int64
	result := r.db.Model(&models.ChatMember{}).
		Where("chat_id = ? AND user_id = ?", chatID, userID).
		Count(&count)
	if result.Error != nil {
		return false, result.Error
	}
	return count > 0, nil
}

// RecordIfUnknown inserts the member unless a row for (chat, user) already
// exists. Returns whether an insert happened. Idempotent: the check and
// insert run in one transaction so concurrent calls record the member once.
func (r *MemberRepository) RecordIfUnknown(member *models.ChatMember) (bool, error) {
	inserted := false
	err := r.db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.ChatMember{}).
			Where("chat_id = ? AND user_id = ?", member.ChatID, member.UserID).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return nil
		}
		if err := tx.Create(member).Error; err != nil {
			return err
		}
		inserted = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to record chat member: %w", err)
	}
	return inserted, nil
}

// Resolve returns the directory row for the user, or ErrMemberNotFound
func (r *MemberRepository) Resolve(chatID, userID int64) (*models.ChatMember, error) {
	var member models.ChatMember
	result := r.db.Where("chat_id = ? AND user_id = ?", chatID, userID).First(&member)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrMemberNotFound
		}
		return nil, result.Error
	}
	return &member, nil
}

// ListAll returns every member recorded in the chat, in insertion order
func (r *MemberRepository) ListAll(chatID int64) ([]models.ChatMember, error) {
	var members []models.ChatMember
	result := r.db.Where("chat_id = ?", chatID).Order("id asc").Find(&members)
	if result.Error != nil {
		return nil, result.Error
	}
	return members, nil
}
