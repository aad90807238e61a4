package handler

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mymmrac/telego"

	"tg-letthemknow/internal/crash"
	"tg-letthemknow/internal/logger"
	"tg-letthemknow/internal/service"
	"tg-letthemknow/internal/storage"
)

// selectionPrefix marks callback data produced by our recipient menus
const selectionPrefix = "ltk:"

const recipientPromptText = "Who's the message for?"

// HandleCallbackQuery processes callback queries from inline keyboards.
// The callback stream is shared with every other bot in the chat, so
// anything that does not carry a valid token for the chat's current session
// is dropped without a word.
func HandleCallbackQuery(ctx context.Context, api BotAPI, query telego.CallbackQuery) error {
	defer crash.RecoverWithStack("callback-handler")

	if query.Data == "" || !strings.HasPrefix(query.Data, selectionPrefix) {
		return nil
	}

	token, recipientID, err := parseSelectionData(query.Data)
	if err != nil {
		return nil
	}

	// Without the originating message there is no chat to match a session
	// against; a menu that old is stale anyway.
	if query.Message == nil {
		return nil
	}
	chatID := query.Message.GetChat().ID

	sess, err := service.Sessions.SelectRecipient(chatID, token, recipientID)
	if err != nil {
		// foreign or stale payload
		return nil
	}

	member, err := service.ResolveMember(chatID, recipientID)
	if err != nil {
		service.Sessions.End(chatID)
		if errors.Is(err, storage.ErrMemberNotFound) {
			// menu entries come from the directory, so this is a broken
			// invariant, not user error
			logger.Errorf("Recipient %d from menu missing in directory for chat %d", recipientID, chatID)
			sendGenericFailure(ctx, api, chatID)
			return answerQuery(ctx, api, query.ID)
		}
		return fmt.Errorf("resolving recipient: %w", err)
	}

	// Edit the now-answered prompt so the stale menu disappears.
	if sess.PromptMessageID != 0 {
		_, err = api.EditMessageText(ctx, &telego.EditMessageTextParams{
			ChatID:    telego.ChatID{ID: chatID},
			MessageID: sess.PromptMessageID,
			Text:      recipientPromptText,
		})
		if err != nil {
			logger.Warningf("Error removing recipient menu in chat %d: %v", chatID, err)
		}
	}

	_, err = api.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   fmt.Sprintf("OK, recording a message for %s.\n\nWhat's the message?", member.DisplayName()),
	})
	if err != nil {
		logger.Warningf("Error sending body prompt in chat %d: %v", chatID, err)
	}

	return answerQuery(ctx, api, query.ID)
}

func answerQuery(ctx context.Context, api BotAPI, queryID string) error {
	err := api.AnswerCallbackQuery(ctx, &telego.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
	})
	if err != nil {
		logger.Warningf("Error answering callback query: %v", err)
	}
	return nil
}

func parseSelectionData(data string) (string, int64, error) {
	parts := strings.Split(data, ":")
	if len(parts) != 3 {
		return "", 0, fmt.Errorf("invalid data format: %s", data)
	}

	userID, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("invalid user ID: %v", err)
	}

	return parts[1], userID, nil
}
