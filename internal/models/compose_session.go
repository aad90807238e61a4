package models

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SessionState is the compose flow position for one chat. Idle is
// represented by the absence of a session.
type SessionState int

const (
	// StateAwaitingRecipient means the recipient menu is on screen
	StateAwaitingRecipient SessionState = iota + 1
	// StateAwaitingBody means the recipient is chosen and the next text
	// message from the initiator becomes the message body
	StateAwaitingBody
)

var (
	// ErrAlreadyComposing signals a second /letthemknow while a session
	// is active in the chat; surfaced to the user as a plain notice.
	ErrAlreadyComposing = errors.New("a message is already being composed in this chat")
	// ErrForeignPayload signals a callback that does not belong to the
	// current session (another bot's menu, or a stale one of ours);
	// routine, silently ignored.
	ErrForeignPayload = errors.New("selection payload does not belong to this session")
)

// ComposeSession is the transient per-chat compose state. It lives only in
// memory; a restart abandons in-flight compositions.
type ComposeSession struct {
	ChatID      int64
	State       SessionState
	Token       string
	InitiatorID int64
	RecipientID int64
	// PromptMessageID references the bot's own "Who's the message for?"
	// message so the stale menu can be edited away once answered.
	PromptMessageID int

	gen int
}

// SessionManager holds at most one compose session per chat. All
// transitions happen under one mutex, which is what makes the
// single-flight guard atomic with session creation.
type SessionManager struct {
	sessions map[int64]*ComposeSession
	timers   map[int64]*time.Timer
	timeout  time.Duration
	mu       sync.Mutex

	gen int
}

// NewSessionManager creates a session manager with the given inactivity
// timeout
func NewSessionManager(timeout time.Duration) *SessionManager {
	return &SessionManager{
		sessions: make(map[int64]*ComposeSession),
		timers:   make(map[int64]*time.Timer),
		timeout:  timeout,
	}
}

// Begin starts a new session for the chat. Returns ErrAlreadyComposing,
// with no state change, when any session is active there.
func (m *SessionManager) Begin(chatID, initiatorID int64) (*ComposeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[chatID]; ok {
		return nil, ErrAlreadyComposing
	}

	m.gen++
	sess := &ComposeSession{
		ChatID:      chatID,
		State:       StateAwaitingRecipient,
		Token:       uuid.NewString(),
		InitiatorID: initiatorID,
		gen:         m.gen,
	}
	m.sessions[chatID] = sess
	m.armTimer(chatID, sess.gen)
	return sess, nil
}

// SetPrompt records the handle of the recipient-menu message
func (m *SessionManager) SetPrompt(chatID int64, messageID int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[chatID]; ok {
		sess.PromptMessageID = messageID
	}
}

// Get returns the active session for the chat, or nil
func (m *SessionManager) Get(chatID int64) *ComposeSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[chatID]; ok {
		copied := *sess
		return &copied
	}
	return nil
}

// SelectRecipient moves the chat's session to StateAwaitingBody. The token
// authenticates the selection as coming from this session's own menu;
// anything else returns ErrForeignPayload and leaves the session untouched.
func (m *SessionManager) SelectRecipient(chatID int64, token string, recipientID int64) (*ComposeSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[chatID]
	if !ok || sess.State != StateAwaitingRecipient || sess.Token != token {
		return nil, ErrForeignPayload
	}

	sess.State = StateAwaitingBody
	sess.RecipientID = recipientID
	// each step gets the full inactivity window
	m.armTimer(chatID, sess.gen)

	copied := *sess
	return &copied, nil
}

// AwaitingBodyFrom reports whether the chat has a session waiting for its
// message body from this user, and returns a copy of it.
func (m *SessionManager) AwaitingBodyFrom(chatID, userID int64) (*ComposeSession, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[chatID]
	if !ok || sess.State != StateAwaitingBody || sess.InitiatorID != userID {
		return nil, false
	}
	copied := *sess
	return &copied, true
}

// End destroys the chat's session, if any
func (m *SessionManager) End(chatID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.remove(chatID)
}

// armTimer (re)starts the inactivity timer for the chat. The generation
// check makes an already-fired timer harmless to a newer session.
func (m *SessionManager) armTimer(chatID int64, gen int) {
	if t, ok := m.timers[chatID]; ok {
		t.Stop()
	}
	m.timers[chatID] = time.AfterFunc(m.timeout, func() {
		m.expire(chatID, gen)
	})
}

func (m *SessionManager) expire(chatID int64, gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if sess, ok := m.sessions[chatID]; ok && sess.gen == gen {
		m.remove(chatID)
	}
}

func (m *SessionManager) remove(chatID int64) {
	if t, ok := m.timers[chatID]; ok {
		t.Stop()
		delete(m.timers, chatID)
	}
	delete(m.sessions, chatID)
}
