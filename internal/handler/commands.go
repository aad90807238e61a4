package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/mymmrac/telego"

	"tg-letthemknow/internal/models"
	"tg-letthemknow/internal/service"
)

// handleCommand routes bot commands. Returns whether the message was a
// command; non-commands fall through to the compose flow.
func handleCommand(ctx context.Context, api BotAPI, message telego.Message) (bool, error) {
	switch commandName(message.Text) {
	case "/letthemknow":
		return true, handleLetThemKnow(ctx, api, message)
	case "/help", "/start":
		return true, sendHelpMessage(ctx, api, message)
	}
	return false, nil
}

// handleLetThemKnow starts a compose session: one per chat, guarded
// atomically inside the session manager.
func handleLetThemKnow(ctx context.Context, api BotAPI, message telego.Message) error {
	chatID := message.Chat.ID

	sess, err := service.Sessions.Begin(chatID, message.From.ID)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyComposing) {
			_, err = api.SendMessage(ctx, &telego.SendMessageParams{
				ChatID: telego.ChatID{ID: chatID},
				Text:   "Already recording a message!",
			})
			return err
		}
		return err
	}

	members, err := service.ListMembers(chatID)
	if err != nil {
		service.Sessions.End(chatID)
		return fmt.Errorf("listing chat members: %w", err)
	}
	if len(members) == 0 {
		// can't happen through normal flow: the initiator was recorded
		// before routing, so the menu always has at least one entry
		service.Sessions.End(chatID)
		_, err = api.SendMessage(ctx, &telego.SendMessageParams{
			ChatID: telego.ChatID{ID: chatID},
			Text:   "I haven't seen anyone in this chat yet.",
		})
		return err
	}

	keyboard := make([][]telego.InlineKeyboardButton, 0, len(members))
	for _, m := range members {
		keyboard = append(keyboard, []telego.InlineKeyboardButton{{
			Text:         m.DisplayName(),
			CallbackData: fmt.Sprintf("ltk:%s:%d", sess.Token, m.UserID),
		}})
	}

	prompt, err := api.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:      telego.ChatID{ID: chatID},
		Text:        recipientPromptText,
		ReplyMarkup: &telego.InlineKeyboardMarkup{InlineKeyboard: keyboard},
	})
	if err != nil {
		service.Sessions.End(chatID)
		return fmt.Errorf("sending recipient menu: %w", err)
	}

	service.Sessions.SetPrompt(chatID, prompt.MessageID)
	return nil
}

// sendHelpMessage sends help information
func sendHelpMessage(ctx context.Context, api BotAPI, message telego.Message) error {
	helpText := "<b>Let Them Know</b>\n\n" +
		"I can hold a message for someone in this chat and pass it on the next time they say something here.\n\n" +
		"<b>Commands:</b>\n" +
		"/letthemknow - schedule a message for someone to see later\n" +
		"/help - show this help"

	_, err := api.SendMessage(ctx, &telego.SendMessageParams{
		ChatID:    telego.ChatID{ID: message.Chat.ID},
		Text:      helpText,
		ParseMode: "HTML",
	})
	return err
}
