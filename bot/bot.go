// Package bot is the Telegram adapter: it runs the update loop, turns
// commands and uploads into quiz-session operations, and pumps inbound
// poll answers into the orchestration core.
package bot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/korjavin/quizbot/ai"
	"github.com/korjavin/quizbot/config"
	"github.com/korjavin/quizbot/database"
	"github.com/korjavin/quizbot/extract"
	"github.com/korjavin/quizbot/quiz"
)

const welcomeText = `MCQ→Quiz Bot ready.

Send /quiz, then upload a document with multiple-choice questions
(questions numbered, options A/B/C/D). I will parse it, ask for the quiz
duration, and run the quiz as a series of polls.

Commands:
/quiz - start a new quiz from a document
/solve {n} - AI explanation for question n
/result - your current score
/endquiz - close the running quiz early (owner only)
/cancel - cancel the quiz without scoring (owner only)`

// answerEvent is one inbound poll answer, stamped at receipt. Telegram
// carries no wire timestamp for poll answers, so receipt order defines
// the last-write-wins clock.
type answerEvent struct {
	pollID    string
	userID    int64
	optionIDs []int
	at        time.Time
}

// Bot wires the Telegram API to the quiz core.
type Bot struct {
	api       *tgbotapi.BotAPI
	cfg       *config.Config
	db        *database.DB
	registry  *quiz.Registry
	explainer ai.Explainer
	extractor extract.Composite
	transport *telegramTransport
	log       *zap.SugaredLogger
	http      *http.Client

	events chan answerEvent

	mu             sync.Mutex
	awaitingCustom map[int64]bool // chats whose owner chose a custom duration
}

// New creates a new bot instance.
func New(cfg *config.Config, db *database.DB, registry *quiz.Registry, explainer ai.Explainer, extractor extract.Composite, log *zap.SugaredLogger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}
	api.Debug = cfg.Debug

	return &Bot{
		api:            api,
		cfg:            cfg,
		db:             db,
		registry:       registry,
		explainer:      explainer,
		extractor:      extractor,
		transport:      &telegramTransport{api: api},
		log:            log,
		http:           &http.Client{Timeout: 2 * time.Minute},
		events:         make(chan answerEvent, 256),
		awaitingCustom: make(map[int64]bool),
	}, nil
}

// Start runs the update loop and the answer-event pump until ctx is done.
func (b *Bot) Start(ctx context.Context) error {
	b.log.Infow("starting bot polling", "username", b.api.Self.UserName)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := b.api.GetUpdatesChan(u)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.pumpAnswers(ctx) })
	g.Go(func() error {
		defer b.api.StopReceivingUpdates()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case update, ok := <-updates:
				if !ok {
					return nil
				}
				b.route(ctx, update)
			}
		}
	})
	return g.Wait()
}

func (b *Bot) route(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.PollAnswer != nil:
		pa := update.PollAnswer
		select {
		case b.events <- answerEvent{
			pollID:    pa.PollID,
			userID:    pa.User.ID,
			optionIDs: pa.OptionIDs,
			at:        time.Now(),
		}:
		case <-ctx.Done():
		}
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil:
		b.handleMessage(ctx, update.Message)
	}
}

// pumpAnswers consumes inbound poll answers and routes each to its
// session by poll ID. Stale events are discarded; late answers get an
// explicit notice back to the participant.
func (b *Bot) pumpAnswers(ctx context.Context) error {
	for {
		var ev answerEvent
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev = <-b.events:
		}

		session, ok := b.registry.Resolve(ev.pollID)
		if !ok {
			b.log.Debugw("answer for unknown poll discarded", "poll", ev.pollID)
			continue
		}

		label := ""
		if len(ev.optionIDs) > 0 {
			if q, _, found := session.QuestionByPoll(ev.pollID); found {
				label = q.LabelForIndex(ev.optionIDs[0])
			}
		}

		err := session.RecordAnswer(ev.pollID, ev.userID, label, ev.at)
		switch {
		case err == nil:
		case errors.Is(err, quiz.ErrLateAnswer):
			b.send(ctx, ev.userID, "The quiz has already closed; this answer was not counted.")
		case errors.Is(err, quiz.ErrStaleEvent):
			b.log.Debugw("stale answer discarded", "poll", ev.pollID, "user", ev.userID)
		default:
			b.log.Warnw("answer ingestion failed", "poll", ev.pollID, "error", err)
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.From == nil {
		return
	}

	if msg.Document != nil {
		b.handleDocument(ctx, msg)
		return
	}

	switch msg.Command() {
	case "start", "help":
		b.send(ctx, msg.Chat.ID, welcomeText)
	case "quiz":
		b.send(ctx, msg.Chat.ID, "Please upload the document containing MCQs (PDF or plain text). After the upload I'll parse it and ask for the quiz duration in minutes.")
	case "solve":
		b.handleSolve(ctx, msg)
	case "result":
		b.handleResult(ctx, msg)
	case "endquiz":
		b.handleEndQuiz(ctx, msg)
	case "cancel":
		b.handleCancel(ctx, msg)
	case "":
		b.handlePlainText(ctx, msg)
	default:
		b.send(ctx, msg.Chat.ID, "Unknown command. Use /quiz to start or /help for assistance.")
	}
}

// handlePlainText catches the custom-duration reply; everything else gets
// a gentle nudge.
func (b *Bot) handlePlainText(ctx context.Context, msg *tgbotapi.Message) {
	text := strings.TrimSpace(msg.Text)

	b.mu.Lock()
	awaiting := b.awaitingCustom[msg.Chat.ID]
	b.mu.Unlock()

	if awaiting {
		minutes, err := strconv.Atoi(text)
		if err != nil || minutes < 1 || minutes > 1440 {
			b.send(ctx, msg.Chat.ID, "Please provide a reasonable duration in minutes (1-1440).")
			return
		}
		b.mu.Lock()
		delete(b.awaitingCustom, msg.Chat.ID)
		b.mu.Unlock()
		b.startQuiz(ctx, msg.Chat.ID, msg.From.ID, minutes)
		return
	}

	if text != "" {
		b.send(ctx, msg.Chat.ID, "Send /quiz and then upload your MCQ document, or use /help.")
	}
}

func (b *Bot) handleSolve(ctx context.Context, msg *tgbotapi.Message) {
	args := strings.Fields(msg.CommandArguments())
	if len(args) < 1 {
		b.send(ctx, msg.Chat.ID, "Usage: /solve {question_number}")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		b.send(ctx, msg.Chat.ID, "Please provide a valid question number.")
		return
	}

	session, ok := b.registry.Lookup(msg.Chat.ID)
	if !ok {
		b.send(ctx, msg.Chat.ID, "No quiz session found for this chat.")
		return
	}
	questions := session.Questions()
	if n < 1 || n > len(questions) {
		b.send(ctx, msg.Chat.ID, fmt.Sprintf("Invalid question number, the quiz has %d questions.", len(questions)))
		return
	}
	q := questions[n-1]

	// Explanations run off the session's critical path.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				b.log.Errorw("recovered from panic in explain goroutine", "panic", r)
			}
		}()

		explanation, err := b.explainer.Explain(context.Background(), q)
		if err != nil {
			b.log.Warnw("explanation failed", "question", n, "error", err)
			b.send(context.Background(), msg.Chat.ID, "Sorry, I couldn't analyze this question. Please try again later.")
			return
		}

		var reply strings.Builder
		fmt.Fprintf(&reply, "Question %d:\n%s\n\nOptions:\n", n, q.Text)
		for _, o := range q.Options {
			fmt.Fprintf(&reply, "%s. %s\n", o.Label, o.Text)
		}
		reply.WriteString("\nAI Explanation:\n" + explanation)
		b.send(context.Background(), msg.Chat.ID, reply.String())
	}()
}

func (b *Bot) handleResult(ctx context.Context, msg *tgbotapi.Message) {
	session, ok := b.registry.Lookup(msg.Chat.ID)
	if !ok {
		b.send(ctx, msg.Chat.ID, "No quiz session found for this chat.")
		return
	}

	if result, done := session.Result(); done {
		if score, present := result.PerUser[msg.From.ID]; present {
			b.send(ctx, msg.Chat.ID, formatUserScore("Your final result", score))
		} else {
			b.send(ctx, msg.Chat.ID, "You did not answer any questions in this quiz.")
		}
		return
	}

	score, ok := session.LiveScore(msg.From.ID)
	if !ok {
		b.send(ctx, msg.Chat.ID, "You have not answered any polls yet.")
		return
	}
	b.send(ctx, msg.Chat.ID, formatUserScore("Your result so far", score))
}

func (b *Bot) handleEndQuiz(ctx context.Context, msg *tgbotapi.Message) {
	session, ok := b.registry.Lookup(msg.Chat.ID)
	if !ok || session.Status() != quiz.StatusActive {
		b.send(ctx, msg.Chat.ID, "No active quiz to close.")
		return
	}
	if msg.From.ID != session.OwnerID() {
		b.send(ctx, msg.Chat.ID, "Only the quiz owner can close it early.")
		return
	}
	if !session.CloseEarly() {
		b.send(ctx, msg.Chat.ID, "The quiz is already closing.")
	}
}

func (b *Bot) handleCancel(ctx context.Context, msg *tgbotapi.Message) {
	session, ok := b.registry.Lookup(msg.Chat.ID)
	if !ok || session.Status().Terminal() {
		b.send(ctx, msg.Chat.ID, "No quiz to cancel.")
		return
	}
	if msg.From.ID != session.OwnerID() {
		b.send(ctx, msg.Chat.ID, "Only the quiz owner can cancel it.")
		return
	}
	session.Cancel()
}

// send delivers a plain text message, logging failures instead of
// propagating them; message delivery must never break quiz state.
func (b *Bot) send(ctx context.Context, chatID int64, text string) {
	if err := b.transport.SendMessage(ctx, chatID, text); err != nil {
		b.log.Warnw("failed to send message", "chat", chatID, "error", err)
	}
}

func (b *Bot) downloadFile(fileID string) ([]byte, error) {
	url, err := b.api.GetFileDirectURL(fileID)
	if err != nil {
		return nil, fmt.Errorf("resolve file URL: %w", err)
	}
	resp, err := b.http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download file: status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
