package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/hikat/kyurgen/internal/config"
	"github.com/hikat/kyurgen/internal/lifecycle"
	"github.com/hikat/kyurgen/internal/models"
	"github.com/hikat/kyurgen/internal/pricing"
	"github.com/hikat/kyurgen/internal/session"
)

// maxVisibleTokens caps how many uncollected tokens the game message offers at
// once; older ones scroll off but stay collectible through the session.
const maxVisibleTokens = 6

// Bot is the chat surface. It renders controller snapshots and forwards user
// actions; all lifecycle decisions live in the controller.
type Bot struct {
	cfg      config.Config
	api      *tgbotapi.BotAPI
	log      *slog.Logger
	backend  lifecycle.Backend
	pay      lifecycle.Purchaser
	engine   *pricing.Engine
	sessions *session.Manager

	mu    sync.Mutex
	games map[int64]*tokenGame
}

type tokenGame struct {
	messageID int
	tokens    []pricing.Token
}

func NewBot(cfg config.Config, api *tgbotapi.BotAPI, log *slog.Logger, client lifecycle.Backend, pay lifecycle.Purchaser, engine *pricing.Engine) *Bot {
	b := &Bot{
		cfg:     cfg,
		api:     api,
		log:     log,
		backend: client,
		pay:     pay,
		engine:  engine,
		games:   make(map[int64]*tokenGame),
	}
	b.sessions = session.NewManager(cfg.DefaultCurrency, b.newController)
	return b
}

func (b *Bot) newController(chatID int64, currency string) *lifecycle.Controller {
	return lifecycle.New(b.log, b.backend, b.pay, b.engine, lifecycle.Options{
		Currency:           currency,
		TokenSpawnInterval: b.cfg.TokenSpawnInterval,
		MaxDiscountPercent: b.cfg.MaxDiscountPercent,
		OnSnapshot: func(snap lifecycle.Snapshot) {
			b.renderSnapshot(chatID, snap)
		},
		OnToken: func(token pricing.Token) {
			b.renderToken(chatID, token)
		},
	})
}

// session resolves the chat's session, seeding the billing currency from the
// sender's language tag on first contact.
func (b *Bot) session(chatID int64, from *tgbotapi.User) *session.Session {
	locale := ""
	if from != nil {
		locale = from.LanguageCode
	}
	return b.sessions.Get(chatID, locale)
}

func (b *Bot) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.log.Info("telegram bot started")

	for {
		select {
		case update := <-updates:
			if update.Message != nil {
				b.handleMessage(ctx, update.Message)
			} else if update.CallbackQuery != nil {
				b.handleCallback(ctx, update.CallbackQuery)
			}
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if msg.IsCommand() {
		b.handleCommand(ctx, msg)
		return
	}

	sess := b.session(msg.Chat.ID, msg.From)
	text := strings.TrimSpace(msg.Text)

	switch sess.State {
	case session.StateAwaitingURL:
		if sess.Mode == models.ModeAI {
			sess.TargetURL = text
			sess.State = session.StateAwaitingPrompt
			b.sessions.Set(msg.Chat.ID, sess)
			b.sendText(msg.Chat.ID, "Describe the visual style (e.g. \"cyberpunk city, neon\"), or /skip for the default.")
			return
		}
		sess.TargetURL = text
		b.sessions.Set(msg.Chat.ID, sess)
		b.startGeneration(ctx, msg.Chat.ID, sess)
	case session.StateAwaitingPrompt:
		sess.Prompt = text
		b.sessions.Set(msg.Chat.ID, sess)
		b.startGeneration(ctx, msg.Chat.ID, sess)
	default:
		b.sendText(msg.Chat.ID, "Send /generate to start.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		text := fmt.Sprintf(
			"Welcome to %s.\n\nOnce pay, forever yours. Zero subscription, 100%% ownership.\n\nWhile your QR art generates, grab the glitch tokens that appear: every token is 1%% off the unlock price, up to %d%%.\n\nCommands:\n/generate — create a QR artifact\n/price — current prices\n/cancel — abandon the current run",
			b.cfg.BrandName, b.cfg.MaxDiscountPercent,
		)
		b.sendText(msg.Chat.ID, text)
	case "generate":
		b.promptModeSelection(msg.Chat.ID, msg.From)
	case "price":
		b.handlePrice(msg.Chat.ID, msg.From)
	case "skip":
		sess := b.session(msg.Chat.ID, msg.From)
		if sess.State != session.StateAwaitingPrompt {
			b.sendText(msg.Chat.ID, "Nothing to skip. Send /generate to start.")
			return
		}
		sess.Prompt = ""
		b.sessions.Set(msg.Chat.ID, sess)
		b.startGeneration(ctx, msg.Chat.ID, sess)
	case "cancel":
		b.clearGame(msg.Chat.ID)
		b.sessions.Reset(msg.Chat.ID)
		b.sendText(msg.Chat.ID, "Cancelled. Send /generate to start over.")
	default:
		b.sendText(msg.Chat.ID, "Unknown command. Use /generate.")
	}
}

func (b *Bot) handlePrice(chatID int64, from *tgbotapi.User) {
	sess := b.session(chatID, from)
	var lines []string
	for _, mode := range []models.Mode{models.ModeStandard, models.ModeAI} {
		base, err := b.engine.BasePrice(mode, sess.Currency)
		if err != nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s: %s", mode, pricing.FormatMinor(base, sess.Currency)))
	}
	lines = append(lines, fmt.Sprintf("Collect tokens during generation for up to %d%% off.", b.cfg.MaxDiscountPercent))
	b.sendText(chatID, strings.Join(lines, "\n"))
}

func (b *Bot) promptModeSelection(chatID int64, from *tgbotapi.User) {
	sess := b.session(chatID, from)
	sess.State = session.StateIdle
	b.sessions.Set(chatID, sess)

	btnStandard := tgbotapi.NewInlineKeyboardButtonData("⚡ Standard QR", "mode:"+string(models.ModeStandard))
	btnAI := tgbotapi.NewInlineKeyboardButtonData("✨ AI Art QR", "mode:"+string(models.ModeAI))
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(btnStandard),
		tgbotapi.NewInlineKeyboardRow(btnAI),
	)
	msg := tgbotapi.NewMessage(chatID, "Pick a generator:")
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send keyboard", "err", err)
	}
}

func (b *Bot) handleCallback(ctx context.Context, cb *tgbotapi.CallbackQuery) {
	if cb.Message == nil {
		return
	}
	chatID := cb.Message.Chat.ID
	data := cb.Data

	switch {
	case strings.HasPrefix(data, "mode:"):
		b.handleModeChosen(chatID, cb, models.Mode(strings.TrimPrefix(data, "mode:")))
	case strings.HasPrefix(data, "token:"):
		b.handleTokenCollect(chatID, cb, strings.TrimPrefix(data, "token:"))
	case data == "pay":
		b.confirmPay(chatID, cb)
	case data == "confirm:pay":
		b.handlePay(ctx, chatID, cb)
	case data == "discard":
		b.confirmDiscard(chatID, cb)
	case data == "confirm:discard":
		b.handleDiscard(ctx, chatID, cb)
	case data == "abandon":
		b.handleAbandon(chatID, cb)
	case data == "retry":
		b.handleRetry(ctx, chatID, cb)
	case data == "noop":
		b.answerCallback(cb.ID, "")
	default:
		b.answerCallback(cb.ID, "Unknown action")
	}
}

func (b *Bot) handleModeChosen(chatID int64, cb *tgbotapi.CallbackQuery, mode models.Mode) {
	if mode != models.ModeStandard && mode != models.ModeAI {
		b.answerCallback(cb.ID, "Unknown mode")
		return
	}
	sess := b.session(chatID, cb.From)
	// Switching modes abandons whatever the previous run produced.
	if sess.Mode != mode {
		sess.Controller.Reset()
		b.clearGame(chatID)
	}
	sess.Mode = mode
	sess.State = session.StateAwaitingURL
	sess.TargetURL = ""
	sess.Prompt = ""
	b.sessions.Set(chatID, sess)

	b.answerCallback(cb.ID, string(mode)+" selected")
	b.sendText(chatID, "Send the link your QR code should open (https://...).")
}

func (b *Bot) startGeneration(ctx context.Context, chatID int64, sess *session.Session) {
	sess.State = session.StateIdle
	b.sessions.Set(chatID, sess)
	b.clearGame(chatID)

	err := sess.Controller.Generate(ctx, sess.Mode, sess.TargetURL, sess.Prompt)
	switch {
	case errors.Is(err, lifecycle.ErrInvalidURL):
		b.sendText(chatID, "URL REQUIRED — send a full link like https://example.com and try /generate again.")
	case errors.Is(err, lifecycle.ErrBusy):
		b.sendText(chatID, "Hold on — a run is already in progress. /cancel to abandon it.")
	case err != nil:
		b.log.Error("generate", "err", err)
		b.sendText(chatID, "Could not start the generation, try again later.")
	default:
		b.sendText(chatID, fmt.Sprintf(
			"⚡ GENERATION STARTED.\nGlitch tokens will appear below — tap them to stack a discount (1%% each, up to %d%%).",
			b.cfg.MaxDiscountPercent,
		))
	}
}

func (b *Bot) handleTokenCollect(chatID int64, cb *tgbotapi.CallbackQuery, tokenID string) {
	sess := b.session(chatID, cb.From)
	percent, ok := sess.Controller.Collect(tokenID)
	if !ok {
		b.answerCallback(cb.ID, "Too late — token expired.")
		return
	}
	b.answerCallback(cb.ID, fmt.Sprintf("Discount locked in: %d%%", percent))

	b.mu.Lock()
	game := b.games[chatID]
	if game != nil {
		kept := game.tokens[:0]
		for _, t := range game.tokens {
			if t.ID != tokenID {
				kept = append(kept, t)
			}
		}
		game.tokens = kept
	}
	b.mu.Unlock()
	b.redrawGame(chatID)
}

func (b *Bot) confirmPay(chatID int64, cb *tgbotapi.CallbackQuery) {
	sess := b.session(chatID, cb.From)
	snap := sess.Controller.Snapshot()
	if snap.Artifact.State != models.StatePreview {
		b.answerCallback(cb.ID, "Nothing to unlock right now.")
		return
	}
	b.answerCallback(cb.ID, "")

	price := pricing.FormatMinor(snap.Quote.PayableMinor, snap.Quote.Currency)
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("Pay %s", price), "confirm:pay"),
			tgbotapi.NewInlineKeyboardButtonData("Back", "noop"),
		),
	)
	text := fmt.Sprintf("Pay %s to unlock?", price)
	if snap.Artifact.Mode == models.ModeStandard {
		text = fmt.Sprintf("Pay %s to remove the watermark?", price)
	}
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send confirm", "err", err)
	}
}

func (b *Bot) handlePay(ctx context.Context, chatID int64, cb *tgbotapi.CallbackQuery) {
	sess := b.session(chatID, cb.From)
	payURL, err := sess.Controller.Purchase(ctx)
	if err != nil {
		if errors.Is(err, lifecycle.ErrInvalidState) {
			b.answerCallback(cb.ID, "Nothing to pay for right now.")
			return
		}
		// The controller already reverted to preview and the snapshot render
		// delivers the detailed failure message.
		b.answerCallback(cb.ID, "Payment could not start.")
		return
	}
	b.answerCallback(cb.ID, "")

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("I changed my mind", "abandon"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Complete your payment here:\n"+payURL+"\n\nI'll unlock the asset the moment the payment is verified.")
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send checkout link", "err", err)
	}
}

func (b *Bot) confirmDiscard(chatID int64, cb *tgbotapi.CallbackQuery) {
	b.answerCallback(cb.ID, "")
	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Yes, discard it", "confirm:discard"),
			tgbotapi.NewInlineKeyboardButtonData("Keep it", "noop"),
		),
	)
	msg := tgbotapi.NewMessage(chatID, "Discard this design? The discount you earned goes with it.")
	msg.ReplyMarkup = keyboard
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send confirm", "err", err)
	}
}

func (b *Bot) handleDiscard(ctx context.Context, chatID int64, cb *tgbotapi.CallbackQuery) {
	sess := b.session(chatID, cb.From)
	if err := sess.Controller.Discard(ctx); err != nil {
		b.answerCallback(cb.ID, "Nothing to discard.")
		return
	}
	b.answerCallback(cb.ID, "Discarded")
	b.clearGame(chatID)
	b.sendText(chatID, "Design discarded. /generate to start fresh.")
}

func (b *Bot) handleAbandon(chatID int64, cb *tgbotapi.CallbackQuery) {
	sess := b.session(chatID, cb.From)
	if err := sess.Controller.AbandonPurchase(); err != nil {
		b.answerCallback(cb.ID, "No checkout in progress.")
		return
	}
	b.answerCallback(cb.ID, "Checkout closed")
}

func (b *Bot) handleRetry(ctx context.Context, chatID int64, cb *tgbotapi.CallbackQuery) {
	sess := b.session(chatID, cb.From)
	if sess.TargetURL == "" {
		b.answerCallback(cb.ID, "Nothing to retry — use /generate.")
		return
	}
	b.answerCallback(cb.ID, "Retrying")
	b.startGeneration(ctx, chatID, sess)
}

// renderSnapshot turns lifecycle transitions into chat messages. It never
// mutates controller state.
func (b *Bot) renderSnapshot(chatID int64, snap lifecycle.Snapshot) {
	switch snap.Artifact.State {
	case models.StatePreview:
		b.finishGame(chatID, snap.Quote.DiscountPercent)
		if snap.LastError != "" {
			b.sendText(chatID, paymentFailureText(snap.LastError))
			return
		}
		b.sendPreview(chatID, snap)
	case models.StateFailed:
		b.clearGame(chatID)
		keyboard := tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("Try again", "retry"),
			),
		)
		msg := tgbotapi.NewMessage(chatID, "Backend error: the server is waking up (it may take ~50 seconds on the free plan). Please try again in a moment.")
		msg.ReplyMarkup = keyboard
		if _, err := b.api.Send(msg); err != nil {
			b.log.Error("send failure", "err", err)
		}
	case models.StatePurchased:
		b.sendText(chatID, "✅ Payment successful! Asset unlocked.\nDownload high-res: "+snap.Artifact.FinalURL)
	}
}

func (b *Bot) sendPreview(chatID int64, snap lifecycle.Snapshot) {
	caption := "🔒 PREVIEW MODE — watermarked. Pay to remove."
	if snap.Artifact.Mode == models.ModeAI {
		caption = "👁 SAMPLE VIEW — dummy data. Pay to unlock the real link."
	}
	price := pricing.FormatMinor(snap.Quote.PayableMinor, snap.Quote.Currency)
	if snap.Quote.DiscountPercent > 0 {
		base := pricing.FormatMinor(snap.Quote.BaseMinor, snap.Quote.Currency)
		caption += fmt.Sprintf("\nPrice: %s (%d%% off %s)", price, snap.Quote.DiscountPercent, base)
	} else {
		caption += fmt.Sprintf("\nPrice: %s", price)
	}

	keyboard := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(fmt.Sprintf("💳 Pay %s & Unlock", price), "pay"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🗑 Discard", "discard"),
		),
	)

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(snap.Artifact.PreviewURL))
	photo.Caption = caption
	photo.ReplyMarkup = keyboard
	if _, err := b.api.Send(photo); err != nil {
		b.log.Error("send preview", "err", err)
		// Fall back to a plain link so the user is never stuck.
		b.sendText(chatID, caption+"\n"+snap.Artifact.PreviewURL)
	}
}

// renderToken maintains a single game message whose keyboard holds the live
// tokens, instead of spamming one message per spawn.
func (b *Bot) renderToken(chatID int64, token pricing.Token) {
	b.mu.Lock()
	game := b.games[chatID]
	if game == nil {
		game = &tokenGame{}
		b.games[chatID] = game
	}
	game.tokens = append(game.tokens, token)
	if len(game.tokens) > maxVisibleTokens {
		game.tokens = game.tokens[len(game.tokens)-maxVisibleTokens:]
	}
	messageID := game.messageID
	b.mu.Unlock()

	if messageID == 0 {
		msg := tgbotapi.NewMessage(chatID, "⚡ DISCOUNT PROTOCOL ACTIVE — grab tokens while the artifact renders:")
		msg.ReplyMarkup = b.gameKeyboard(chatID)
		sent, err := b.api.Send(msg)
		if err != nil {
			b.log.Error("send game message", "err", err)
			return
		}
		b.mu.Lock()
		if g := b.games[chatID]; g != nil {
			g.messageID = sent.MessageID
		}
		b.mu.Unlock()
		return
	}
	b.redrawGame(chatID)
}

func (b *Bot) gameKeyboard(chatID int64) tgbotapi.InlineKeyboardMarkup {
	b.mu.Lock()
	defer b.mu.Unlock()
	game := b.games[chatID]
	var rows [][]tgbotapi.InlineKeyboardButton
	if game != nil {
		for _, t := range game.tokens {
			rows = append(rows, tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonData("⚡ GRAB -1%", "token:"+t.ID),
			))
		}
	}
	if len(rows) == 0 {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("…", "noop"),
		))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func (b *Bot) redrawGame(chatID int64) {
	b.mu.Lock()
	game := b.games[chatID]
	var messageID int
	if game != nil {
		messageID = game.messageID
	}
	b.mu.Unlock()
	if messageID == 0 {
		return
	}

	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, messageID, b.gameKeyboard(chatID))
	if _, err := b.api.Request(edit); err != nil {
		b.log.Error("redraw game", "err", err)
	}
}

// finishGame replaces the game message once the discount is frozen.
func (b *Bot) finishGame(chatID int64, percent int) {
	b.mu.Lock()
	game := b.games[chatID]
	delete(b.games, chatID)
	b.mu.Unlock()
	if game == nil || game.messageID == 0 {
		return
	}

	text := fmt.Sprintf("⚡ DISCOUNT LOCKED: %d%% off.", percent)
	if percent == 0 {
		text = "⚡ Generation finished before you grabbed a token — full price this time."
	}
	edit := tgbotapi.NewEditMessageText(chatID, game.messageID, text)
	if _, err := b.api.Request(edit); err != nil {
		b.log.Error("finish game", "err", err)
	}
}

func (b *Bot) clearGame(chatID int64) {
	b.mu.Lock()
	delete(b.games, chatID)
	b.mu.Unlock()
}

func (b *Bot) answerCallback(id, text string) {
	if _, err := b.api.Request(tgbotapi.NewCallback(id, text)); err != nil {
		b.log.Error("callback ack", "err", err)
	}
}

func (b *Bot) sendText(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.api.Send(msg); err != nil {
		b.log.Error("send text", "err", err)
	}
}

func paymentFailureText(lastErr string) string {
	switch {
	case strings.Contains(lastErr, "verification failed"):
		return "⚠️ Verification failed! Your payment reference has been recorded — please contact support to resolve it."
	case strings.Contains(lastErr, "gateway unavailable"):
		return "Payment gateway failed to load. Are you online? Try paying again."
	case strings.Contains(lastErr, "order creation failed"):
		return "Server error while creating the order: " + lastErr + "\nTry paying again in a moment."
	default:
		return "Payment failed: " + lastErr
	}
}
