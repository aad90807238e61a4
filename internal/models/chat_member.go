package models

import (
	"strconv"
	"sync"
	"time"
)

// ChatMember is one row per (chat, user) ever seen sending a message.
// Rows are append-only: once recorded a member is never updated or removed,
// so menus always reflect first-seen names.
type ChatMember struct {
	ID        uint `gorm:"primarykey"`
	CreatedAt time.Time

	ChatID    int64 `gorm:"index:idx_chat_user,unique"`
	UserID    int64 `gorm:"index:idx_chat_user,unique"`
	FirstName string
	LastName  string
	Username  string
}

// DisplayName derives the name shown in recipient menus and delivery
// notices. Precedence: "first last" when the last name is non-empty, else
// the first name, else the username. Total on any field combination.
func (m *ChatMember) DisplayName() string {
	if m.FirstName != "" {
		if m.LastName != "" {
			return m.FirstName + " " + m.LastName
		}
		return m.FirstName
	}
	if m.Username != "" {
		return m.Username
	}
	return strconv.FormatInt(m.UserID, 10)
}

// MemberCache remembers which (chat, user) pairs are already recorded so
// the per-message directory probe skips the database for known senders.
type MemberCache struct {
	known map[int64]map[int64]bool
	mu    sync.RWMutex
}

// NewMemberCache creates an empty member cache
func NewMemberCache() *MemberCache {
	return &MemberCache{
		known: make(map[int64]map[int64]bool),
	}
}

// Contains checks whether the user is cached as known in the chat
func (c *MemberCache) Contains(chatID, userID int64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.known[chatID][userID]
}

// Add marks the user as known in the chat
func (c *MemberCache) Add(chatID, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	users, ok := c.known[chatID]
	if !ok {
		users = make(map[int64]bool)
		c.known[chatID] = users
	}
	users[userID] = true
}
