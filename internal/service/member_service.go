package service

import (
	"tg-letthemknow/internal/logger"
	"tg-letthemknow/internal/models"
)

// EnsureMember records the member in the chat directory if this is the
// first time we see them. The cache keeps already-known senders from
// hitting the database on every message.
func EnsureMember(member *models.ChatMember) error {
	if memberCache.Contains(member.ChatID, member.UserID) {
		return nil
	}

	inserted, err := memberRepository.RecordIfUnknown(member)
	if err != nil {
		return err
	}
	if inserted {
		logger.Infof("Recorded new chat member %d (%s) in chat %d", member.UserID, member.DisplayName(), member.ChatID)
	}
	memberCache.Add(member.ChatID, member.UserID)
	return nil
}

// ListMembers returns all recorded members of the chat in insertion order
func ListMembers(chatID int64) ([]models.ChatMember, error) {
	return memberRepository.ListAll(chatID)
}

// ResolveMember resolves a user id against the chat directory; returns
// storage.ErrMemberNotFound when there is no row.
func ResolveMember(chatID, userID int64) (*models.ChatMember, error) {
	return memberRepository.Resolve(chatID, userID)
}
