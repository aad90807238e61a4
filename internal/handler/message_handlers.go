package handler

import (
	"context"
	"fmt"
	"strings"

	"github.com/mymmrac/telego"

	"tg-letthemknow/internal/crash"
	"tg-letthemknow/internal/logger"
	"tg-letthemknow/internal/models"
	"tg-letthemknow/internal/service"
)

// HandleMessage processes every inbound chat message. Pending deliveries
// for the sender are flushed before anything else looks at the message;
// routing then always continues into commands and the compose flow.
func HandleMessage(ctx context.Context, api BotAPI, message telego.Message) error {
	defer crash.RecoverWithStack("message-handler")

	// Skip if no sender information or sender is a bot
	if message.From == nil || message.From.IsBot {
		return nil
	}

	if globalConfig.Bot.GroupID != -1 && message.Chat.ID != globalConfig.Bot.GroupID {
		return nil
	}

	if err := deliverPending(ctx, api, message); err != nil {
		return err
	}

	if err := service.EnsureMember(memberFromUser(message.Chat.ID, message.From)); err != nil {
		return fmt.Errorf("recording chat member: %w", err)
	}

	if handled, err := handleCommand(ctx, api, message); handled {
		return err
	}

	return handleComposeInput(ctx, api, message)
}

// deliverPending flushes all messages waiting for the sender in this chat,
// oldest first. The rows are already gone from the store by the time we
// start sending; a transport failure on one entry is logged and the rest of
// the batch still goes out. Best effort, nothing is re-enqueued.
func deliverPending(ctx context.Context, api BotAPI, message telego.Message) error {
	pending, err := service.DrainPendingMsgs(message.From.ID, message.Chat.ID)
	if err != nil {
		return fmt.Errorf("draining pending messages: %w", err)
	}

	for _, pm := range pending {
		_, err := api.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: message.Chat.ID},
			Text:   fmt.Sprintf("By the way, %s wanted me to let you know:", pm.SenderName),
		})
		if err != nil {
			logger.Warningf("Error sending delivery notice for pending message %d: %v", pm.ID, err)
			continue
		}

		_, err = api.ForwardMessage(ctx, &telego.ForwardMessageParams{
			ChatID:     telego.ChatID{ID: message.Chat.ID},
			FromChatID: telego.ChatID{ID: pm.ChatID},
			MessageID:  pm.MessageID,
		})
		if err != nil {
			logger.Warningf("Error forwarding pending message %d: %v", pm.ID, err)
		}
	}

	return nil
}

// handleComposeInput captures the message body for a compose session that
// is waiting on this user. The next message from the initiator is taken as
// the body unconditionally; delivery forwards the original message, so
// non-text content works too.
func handleComposeInput(ctx context.Context, api BotAPI, message telego.Message) error {
	sess, ok := service.Sessions.AwaitingBodyFrom(message.Chat.ID, message.From.ID)
	if !ok {
		return nil
	}

	pm := &models.PendingMessage{
		RecipientID: sess.RecipientID,
		ChatID:      message.Chat.ID,
		MessageID:   message.MessageID,
		SenderName:  memberFromUser(message.Chat.ID, message.From).DisplayName(),
		Body:        message.Text,
	}
	if err := service.EnqueuePendingMsg(pm); err != nil {
		service.Sessions.End(message.Chat.ID)
		sendGenericFailure(ctx, api, message.Chat.ID)
		return fmt.Errorf("enqueueing pending message: %w", err)
	}

	service.Sessions.End(message.Chat.ID)

	_, err := api.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: message.Chat.ID},
		Text:   "I'll let them know.",
	})
	return err
}

func memberFromUser(chatID int64, user *telego.User) *models.ChatMember {
	return &models.ChatMember{
		ChatID:    chatID,
		UserID:    user.ID,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Username:  user.Username,
	}
}

func sendGenericFailure(ctx context.Context, api BotAPI, chatID int64) {
	_, err := api.SendMessage(ctx, &telego.SendMessageParams{
		ChatID: telego.ChatID{ID: chatID},
		Text:   "Something went wrong, please try again.",
	})
	if err != nil {
		logger.Warningf("Error sending failure notice to chat %d: %v", chatID, err)
	}
}

// commandName extracts the command from the message text, stripping the
// @botname suffix Telegram appends in groups.
func commandName(text string) string {
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	cmd := strings.Fields(text)[0]
	if at := strings.Index(cmd, "@"); at != -1 {
		cmd = cmd[:at]
	}
	return cmd
}
