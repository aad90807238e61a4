package models

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testChatID = int64(-100500)

func TestBeginSingleFlight(t *testing.T) {
	m := NewSessionManager(time.Minute)

	sess, err := m.Begin(testChatID, 1)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingRecipient, sess.State)
	assert.NotEmpty(t, sess.Token)

	_, err = m.Begin(testChatID, 2)
	assert.ErrorIs(t, err, ErrAlreadyComposing)

	// other chats are unaffected
	_, err = m.Begin(testChatID+1, 2)
	assert.NoError(t, err)
}

func TestBeginConcurrent(t *testing.T) {
	m := NewSessionManager(time.Minute)

	var wg sync.WaitGroup
	var mu sync.Mutex
	started := 0
	rejected := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			_, err := m.Begin(testChatID, userID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				rejected++
			} else {
				started++
			}
		}(int64(i))
	}
	wg.Wait()

	assert.Equal(t, 1, started)
	assert.Equal(t, 9, rejected)
}

func TestSelectRecipient(t *testing.T) {
	m := NewSessionManager(time.Minute)

	sess, err := m.Begin(testChatID, 1)
	require.NoError(t, err)

	// wrong token is someone else's menu
	_, err = m.SelectRecipient(testChatID, "not-the-token", 7)
	assert.ErrorIs(t, err, ErrForeignPayload)

	// wrong chat has no matching session
	_, err = m.SelectRecipient(testChatID+1, sess.Token, 7)
	assert.ErrorIs(t, err, ErrForeignPayload)

	updated, err := m.SelectRecipient(testChatID, sess.Token, 7)
	require.NoError(t, err)
	assert.Equal(t, StateAwaitingBody, updated.State)
	assert.Equal(t, int64(7), updated.RecipientID)

	// a second selection from the stale menu is rejected
	_, err = m.SelectRecipient(testChatID, sess.Token, 8)
	assert.ErrorIs(t, err, ErrForeignPayload)
}

func TestAwaitingBodyFrom(t *testing.T) {
	m := NewSessionManager(time.Minute)

	sess, err := m.Begin(testChatID, 1)
	require.NoError(t, err)

	// not yet awaiting a body
	_, ok := m.AwaitingBodyFrom(testChatID, 1)
	assert.False(t, ok)

	_, err = m.SelectRecipient(testChatID, sess.Token, 7)
	require.NoError(t, err)

	// only the initiator's messages qualify
	_, ok = m.AwaitingBodyFrom(testChatID, 2)
	assert.False(t, ok)

	got, ok := m.AwaitingBodyFrom(testChatID, 1)
	require.True(t, ok)
	assert.Equal(t, int64(7), got.RecipientID)
}

func TestEnd(t *testing.T) {
	m := NewSessionManager(time.Minute)

	_, err := m.Begin(testChatID, 1)
	require.NoError(t, err)

	m.End(testChatID)
	assert.Nil(t, m.Get(testChatID))

	_, err = m.Begin(testChatID, 1)
	assert.NoError(t, err)
}

func TestInactivityTimeout(t *testing.T) {
	m := NewSessionManager(30 * time.Millisecond)

	sess, err := m.Begin(testChatID, 1)
	require.NoError(t, err)
	_, err = m.SelectRecipient(testChatID, sess.Token, 7)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		return m.Get(testChatID) == nil
	}, time.Second, 10*time.Millisecond)

	// text arriving after the window finds no session
	_, ok := m.AwaitingBodyFrom(testChatID, 1)
	assert.False(t, ok)
}

func TestStaleTimerDoesNotKillNewSession(t *testing.T) {
	m := NewSessionManager(150 * time.Millisecond)

	_, err := m.Begin(testChatID, 1)
	require.NoError(t, err)

	// finish the first session and immediately start another
	m.End(testChatID)
	second, err := m.Begin(testChatID, 2)
	require.NoError(t, err)

	// past the first session's deadline the second one must still be alive
	time.Sleep(100 * time.Millisecond)
	got := m.Get(testChatID)
	require.NotNil(t, got)
	assert.Equal(t, second.Token, got.Token)
}

func TestTimerResetOnTransition(t *testing.T) {
	m := NewSessionManager(200 * time.Millisecond)

	sess, err := m.Begin(testChatID, 1)
	require.NoError(t, err)

	// transition shortly before expiry re-arms the full window
	time.Sleep(120 * time.Millisecond)
	_, err = m.SelectRecipient(testChatID, sess.Token, 7)
	require.NoError(t, err)

	time.Sleep(120 * time.Millisecond)
	assert.NotNil(t, m.Get(testChatID), "session expired despite recent activity")

	assert.Eventually(t, func() bool {
		return m.Get(testChatID) == nil
	}, time.Second, 10*time.Millisecond)
}
