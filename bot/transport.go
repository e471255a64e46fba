package bot

import (
	"context"
	"errors"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// telegramTransport implements quiz.Transport on top of the Bot API.
// tgbotapi has no context support; ctx is honored only as an early-out.
type telegramTransport struct {
	api *tgbotapi.BotAPI
}

func (t *telegramTransport) SendPoll(ctx context.Context, chatID int64, question string, options []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	poll := tgbotapi.NewPoll(chatID, question, options...)
	poll.IsAnonymous = false
	poll.AllowsMultipleAnswers = false

	msg, err := t.api.Send(poll)
	if err != nil {
		return "", err
	}
	if msg.Poll == nil {
		return "", errors.New("send poll: response carried no poll")
	}
	return msg.Poll.ID, nil
}

func (t *telegramTransport) SendMessage(ctx context.Context, chatID int64, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := t.api.Send(tgbotapi.NewMessage(chatID, text))
	return err
}
