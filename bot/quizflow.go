package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/korjavin/quizbot/extract"
	"github.com/korjavin/quizbot/models"
	"github.com/korjavin/quizbot/parser"
	"github.com/korjavin/quizbot/quiz"
	"github.com/korjavin/quizbot/textproc"
)

var durationPresets = []int{5, 10, 15, 20, 30, 45, 60}

const callbackDurPrefix = "dur:"

// handleDocument runs the creation pipeline: download, extract, normalize,
// parse, register the session, ask for a duration.
func (b *Bot) handleDocument(ctx context.Context, msg *tgbotapi.Message) {
	doc := msg.Document
	name := strings.ToLower(doc.FileName)
	if !strings.HasSuffix(name, ".pdf") && !strings.HasSuffix(name, ".txt") {
		b.send(ctx, msg.Chat.ID, "Please upload a PDF or plain-text file with MCQs.")
		return
	}

	if b.cfg.BackupChannelID != 0 {
		forward := tgbotapi.NewForward(b.cfg.BackupChannelID, msg.Chat.ID, msg.MessageID)
		if _, err := b.api.Send(forward); err != nil {
			b.log.Warnw("backup forward failed", "error", err)
		}
	}

	b.send(ctx, msg.Chat.ID, "Document received. Parsing... This may take a few seconds.")

	data, err := b.downloadFile(doc.FileID)
	if err != nil {
		b.log.Warnw("document download failed", "chat", msg.Chat.ID, "error", err)
		b.send(ctx, msg.Chat.ID, "Error downloading the document, please try again.")
		return
	}

	extractor := b.extractor
	if strings.HasSuffix(name, ".txt") {
		extractor = extract.Composite{Primary: extract.PlainText{}}
	}
	raw, err := extractor.Text(ctx, data)
	if err != nil {
		if errors.Is(err, extract.ErrNotConfigured) {
			b.send(ctx, msg.Chat.ID, "PDF extraction is not available on this deployment. Please send the questions as a plain .txt file instead.")
			return
		}
		b.log.Warnw("text extraction failed", "chat", msg.Chat.ID, "error", err)
		b.send(ctx, msg.Chat.ID, "Error extracting text from the document.")
		return
	}

	questions, err := parser.Parse(textproc.Normalize(raw))
	if err != nil {
		var pe *parser.ParseError
		if errors.As(err, &pe) && pe.Reason == parser.MalformedOptionBlock {
			b.send(ctx, msg.Chat.ID, "I found question blocks but their options were malformed (duplicate labels?). Please check the document formatting.")
		} else {
			b.send(ctx, msg.Chat.ID, "No MCQs detected. Please send a clearly formatted MCQ document (questions numbered, options A/B/C/D).")
		}
		return
	}

	session, err := b.registry.Create(b.transport, msg.Chat.ID, msg.From.ID, questions, quiz.Hooks{
		Completed: b.deliverResults,
		Cancelled: b.notifyCancelled,
	})
	if err != nil {
		if errors.Is(err, quiz.ErrSessionAlreadyActive) {
			b.send(ctx, msg.Chat.ID, "A quiz is already running in this chat. Finish or /cancel it first.")
		} else {
			b.log.Errorw("session creation failed", "chat", msg.Chat.ID, "error", err)
			b.send(ctx, msg.Chat.ID, "Could not create the quiz, please try again.")
		}
		return
	}
	if err := session.AwaitDuration(); err != nil {
		b.log.Errorw("await duration failed", "chat", msg.Chat.ID, "error", err)
		return
	}

	prompt := tgbotapi.NewMessage(msg.Chat.ID,
		fmt.Sprintf("Parsed %d questions. Set quiz duration (minutes):", len(questions)))
	prompt.ReplyMarkup = durationKeyboard()
	if _, err := b.api.Send(prompt); err != nil {
		b.log.Warnw("failed to send duration keyboard", "error", err)
	}
}

func durationKeyboard() tgbotapi.InlineKeyboardMarkup {
	var rows [][]tgbotapi.InlineKeyboardButton
	for _, m := range durationPresets {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("%d min", m), callbackDurPrefix+strconv.Itoa(m)),
		))
	}
	rows = append(rows, tgbotapi.NewInlineKeyboardRow(
		tgbotapi.NewInlineKeyboardButtonData("Custom", callbackDurPrefix+"custom"),
	))
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if callback.Message == nil || !strings.HasPrefix(callback.Data, callbackDurPrefix) {
		b.answerCallback(callback.ID, "")
		return
	}
	chatID := callback.Message.Chat.ID

	session, ok := b.registry.Lookup(chatID)
	if !ok || session.Status() != quiz.StatusAwaitingDuration {
		b.answerCallback(callback.ID, "No quiz is waiting for a duration.")
		return
	}
	if callback.From.ID != session.OwnerID() {
		b.answerCallback(callback.ID, "Only the quiz owner can set the duration.")
		return
	}

	val := strings.TrimPrefix(callback.Data, callbackDurPrefix)
	if val == "custom" {
		b.mu.Lock()
		b.awaitingCustom[chatID] = true
		b.mu.Unlock()
		b.answerCallback(callback.ID, "Send the number of minutes (e.g. 20) as a message now.")
		return
	}

	minutes, err := strconv.Atoi(val)
	if err != nil || minutes < 1 || minutes > 1440 {
		b.answerCallback(callback.ID, "Invalid duration.")
		return
	}
	b.answerCallback(callback.ID, fmt.Sprintf("Quiz will run for %d minutes.", minutes))
	b.startQuiz(ctx, chatID, callback.From.ID, minutes)
}

// startQuiz fixes the duration and dispatches all polls in the background.
func (b *Bot) startQuiz(ctx context.Context, chatID, userID int64, minutes int) {
	session, ok := b.registry.Lookup(chatID)
	if !ok {
		b.send(ctx, chatID, "Session not found, please resend the document.")
		return
	}
	if userID != session.OwnerID() {
		b.send(ctx, chatID, "Only the quiz owner can set the duration.")
		return
	}
	if err := session.SetDuration(time.Duration(minutes) * time.Minute); err != nil {
		b.log.Warnw("set duration rejected", "chat", chatID, "error", err)
		b.send(ctx, chatID, "The quiz is not waiting for a duration.")
		return
	}

	b.send(ctx, chatID, fmt.Sprintf("Quiz will run for %d minutes. Sending %d questions now!",
		minutes, len(session.Questions())))

	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Errorw("recovered from panic in dispatch goroutine", "panic", r)
			}
		}()

		if err := session.Dispatch(context.Background()); err != nil {
			b.log.Errorw("dispatch failed", "chat", chatID, "error", err)
			return
		}
		_, endsAt := session.Window()
		b.send(context.Background(), chatID, fmt.Sprintf(
			"Quiz started! It will end at %s. Use /result to check your score anytime; I'll post results automatically when time is up.",
			endsAt.UTC().Format("2006-01-02 15:04:05 UTC")))
	}()
}

// deliverResults DMs each participant their score, posts the group
// ranking, and archives the quiz.
func (b *Bot) deliverResults(s *quiz.Session, result models.ScoreResult) {
	ctx := context.Background()

	for _, userID := range result.Ranking {
		score := result.PerUser[userID]
		// DMs fail for participants who never opened a private chat with
		// the bot.
		if err := b.transport.SendMessage(ctx, userID, formatUserScore("Quiz finished! Your results", score)); err != nil {
			b.log.Debugw("result DM failed", "user", userID, "error", err)
		}
	}

	lines := []string{"🏆 Quiz ended! Results:"}
	if len(result.Ranking) == 0 {
		lines = append(lines, "No participants answered.")
	}
	medals := map[int]string{0: "🥇", 1: "🥈", 2: "🥉"}
	for pos, userID := range result.Ranking {
		medal, ok := medals[pos]
		if !ok {
			medal = fmt.Sprintf("%d.", pos+1)
		}
		score := result.PerUser[userID]
		lines = append(lines, fmt.Sprintf("%s User %d — ✅%d ❌%d (answered %d/%d)",
			medal, userID, score.Correct, score.Answered-score.Correct, score.Answered, score.Total))
	}
	b.send(ctx, s.ChatID(), strings.Join(lines, "\n"))

	startedAt, endedAt := s.Window()
	if err := b.db.ArchiveQuiz(s.ID(), s.ChatID(), startedAt, endedAt, s.Questions(), result); err != nil {
		b.log.Warnw("quiz archive failed", "chat", s.ChatID(), "error", err)
	} else if count, err := b.db.ArchivedQuizCount(s.ChatID()); err == nil && count > 1 {
		b.send(ctx, s.ChatID(), fmt.Sprintf("That makes %d quizzes completed in this chat.", count))
	}
}

func (b *Bot) notifyCancelled(s *quiz.Session) {
	b.mu.Lock()
	delete(b.awaitingCustom, s.ChatID())
	b.mu.Unlock()
	b.send(context.Background(), s.ChatID(), "Quiz cancelled. No results were computed.")
}

func (b *Bot) answerCallback(callbackID, text string) {
	callback := tgbotapi.NewCallback(callbackID, text)
	if _, err := b.api.Request(callback); err != nil {
		b.log.Warnw("failed to answer callback", "error", err)
	}
}

func formatUserScore(header string, score models.UserScore) string {
	return fmt.Sprintf("%s:\n✅ Correct: %d\n❌ Wrong: %d\n📝 Answered: %d (scored questions: %d)",
		header, score.Correct, score.Answered-score.Correct, score.Answered, score.Total)
}
