// Package bot is the Telegram surface: it answers subscriber commands and
// delivers matched postings computed by the polling pipeline.
package bot

import (
	"context"
	"crypto/md5" //nolint:gosec // callback tokens, not security
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codeGROOVE-dev/retry"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"cryptojobs-notifier/feed"
	"cryptojobs-notifier/filter"
	"cryptojobs-notifier/pkg/jobs"
	"cryptojobs-notifier/poll"
	"cryptojobs-notifier/storage"
)

const (
	// maxPostingsPerBatch caps how many postings go out to one chat in a
	// single delivery or /latest reply; the rest is summarized.
	maxPostingsPerBatch = 5

	// maxCallbackRefs bounds the in-memory posting cache backing the
	// Save/Remove inline buttons.
	maxCallbackRefs = 1000

	sendAttempts = 3
	sendDelay    = 500 * time.Millisecond
)

// Feed fetches raw postings for /latest.
type Feed interface {
	Fetch(ctx context.Context) ([]feed.Item, error)
}

// Seen answers whether a posting was already notified, for /latest new.
type Seen interface {
	HasSeen(ctx context.Context, id string) (bool, error)
}

// Bot wires the Telegram API to subscriber storage and the feed.
type Bot struct {
	api    *tgbotapi.BotAPI
	subs   *storage.Subscribers
	feed   Feed
	seen   Seen
	logger *slog.Logger

	// refs maps short callback tokens to the postings behind the Save and
	// Remove buttons. Telegram caps callback data at 64 bytes, so full
	// posting IDs (often URLs) cannot travel in the button itself.
	// Guarded by mu: delivery runs on the scheduler goroutine while
	// callbacks arrive on the update loop.
	mu   sync.Mutex
	refs map[string]jobs.Posting
}

func (b *Bot) lookupRef(token string) (jobs.Posting, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.refs[token]
	return p, ok
}

// New authenticates against the Telegram API and returns a ready bot.
func New(token string, subs *storage.Subscribers, f Feed, seen Seen, logger *slog.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}
	logger.Info("Telegram bot authenticated", "username", api.Self.UserName)
	return &Bot{
		api:    api,
		subs:   subs,
		feed:   f,
		seen:   seen,
		logger: logger,
	}, nil
}

// Run consumes Telegram updates until ctx is cancelled. Update handling is
// sequential; command handlers are fast and delivery happens elsewhere.
func (b *Bot) Run(ctx context.Context) {
	cfg := tgbotapi.NewUpdate(0)
	cfg.Timeout = 30
	updates := b.api.GetUpdatesChan(cfg)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			b.handleUpdate(ctx, update)
		}
	}
}

func (b *Bot) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message != nil && update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case update.Message != nil:
		b.reply(update.Message.Chat.ID, "Please use one of the commands from /help.")
	}
}

func (b *Bot) handleCommand(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	var err error
	switch msg.Command() {
	case "start":
		err = b.cmdStart(ctx, chatID)
	case "stop":
		err = b.cmdStop(ctx, chatID)
	case "help":
		b.reply(chatID, helpMessage)
	case "latest":
		err = b.cmdLatest(ctx, chatID, args)
	case "filters":
		err = b.cmdFilters(ctx, chatID)
	case "addtype":
		err = b.cmdAddType(ctx, chatID, args)
	case "removetype":
		err = b.cmdRemoveType(ctx, chatID, args)
	case "addkeyword":
		err = b.cmdAddKeyword(ctx, chatID, args)
	case "removekeyword":
		err = b.cmdRemoveKeyword(ctx, chatID, args)
	case "clearfilters":
		err = b.cmdClearFilters(ctx, chatID)
	case "favorites":
		err = b.cmdFavorites(ctx, chatID)
	default:
		b.reply(chatID, "Unknown command. See /help.")
	}

	if err != nil {
		b.logger.Error("Command failed", "command", msg.Command(), "chat_id", chatID, "error", err)
		b.reply(chatID, "❌ Something went wrong. Please try again later.")
	}
}

func (b *Bot) cmdStart(ctx context.Context, chatID int64) error {
	if _, err := b.subs.Subscribe(ctx, chatID); err != nil {
		return fmt.Errorf("subscribe %d: %w", chatID, err)
	}
	b.logger.Info("Subscriber joined", "chat_id", chatID)
	b.reply(chatID, welcomeMessage)
	return nil
}

func (b *Bot) cmdStop(ctx context.Context, chatID int64) error {
	if err := b.subs.Unsubscribe(ctx, chatID); err != nil {
		return fmt.Errorf("unsubscribe %d: %w", chatID, err)
	}
	b.logger.Info("Subscriber left", "chat_id", chatID)
	b.reply(chatID, goodbyeMessage)
	return nil
}

func (b *Bot) cmdFilters(ctx context.Context, chatID int64) error {
	sub, err := b.subs.Get(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		sub = jobs.NewSubscriber(chatID)
	} else if err != nil {
		return fmt.Errorf("load subscriber %d: %w", chatID, err)
	}
	b.reply(chatID, filtersSummary(sub.Filter))
	return nil
}

func (b *Bot) cmdAddType(ctx context.Context, chatID int64, arg string) error {
	jt, err := jobs.ParseJobType(arg)
	if err != nil {
		b.reply(chatID, "Usage: /addtype &lt;type&gt;\nAvailable types: "+jobTypeList())
		return nil
	}
	if err := b.subs.AddJobType(ctx, chatID, jt); err != nil {
		return fmt.Errorf("add job type: %w", err)
	}
	b.reply(chatID, fmt.Sprintf("✅ Added <b>%s</b> to your job type filters.", displayJobType(jt)))
	return nil
}

func (b *Bot) cmdRemoveType(ctx context.Context, chatID int64, arg string) error {
	jt, err := jobs.ParseJobType(arg)
	if err != nil {
		b.reply(chatID, "Usage: /removetype &lt;type&gt;\nAvailable types: "+jobTypeList())
		return nil
	}
	if err := b.subs.RemoveJobType(ctx, chatID, jt); err != nil {
		return fmt.Errorf("remove job type: %w", err)
	}
	b.reply(chatID, fmt.Sprintf("✅ Removed job type filter <b>%s</b>.", displayJobType(jt)))
	return nil
}

func (b *Bot) cmdAddKeyword(ctx context.Context, chatID int64, arg string) error {
	if arg == "" {
		b.reply(chatID, "Usage: /addkeyword &lt;word or phrase&gt;")
		return nil
	}
	if err := b.subs.AddKeyword(ctx, chatID, arg); err != nil {
		return fmt.Errorf("add keyword: %w", err)
	}
	b.reply(chatID, fmt.Sprintf("✅ Added keyword filter: <b>%s</b>", escapeHTML(arg)))
	return nil
}

func (b *Bot) cmdRemoveKeyword(ctx context.Context, chatID int64, arg string) error {
	if arg == "" {
		b.reply(chatID, "Usage: /removekeyword &lt;word or phrase&gt;")
		return nil
	}
	if err := b.subs.RemoveKeyword(ctx, chatID, arg); err != nil {
		return fmt.Errorf("remove keyword: %w", err)
	}
	b.reply(chatID, fmt.Sprintf("✅ Removed keyword filter: <b>%s</b>", escapeHTML(arg)))
	return nil
}

func (b *Bot) cmdClearFilters(ctx context.Context, chatID int64) error {
	if err := b.subs.ClearFilters(ctx, chatID); err != nil {
		return fmt.Errorf("clear filters: %w", err)
	}
	b.reply(chatID, "✅ All filters cleared. You will now receive all jobs.")
	return nil
}

func (b *Bot) cmdLatest(ctx context.Context, chatID int64, args string) error {
	newOnly := strings.EqualFold(args, "new")

	sub, err := b.subs.Get(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) {
		sub = jobs.NewSubscriber(chatID)
	} else if err != nil {
		return fmt.Errorf("load subscriber %d: %w", chatID, err)
	}

	items, err := b.feed.Fetch(ctx)
	if err != nil {
		return fmt.Errorf("fetch feed: %w", err)
	}

	matched := make([]jobs.Posting, 0, len(items))
	for _, p := range poll.Postings(items, b.logger) {
		if !filter.Matches(p, sub.Filter) {
			continue
		}
		if newOnly {
			seen, err := b.seen.HasSeen(ctx, p.ID)
			if err != nil {
				return fmt.Errorf("seen lookup: %w", err)
			}
			if seen {
				continue
			}
		}
		matched = append(matched, p)
	}

	if len(matched) == 0 {
		if newOnly {
			b.reply(chatID, "No new jobs found matching your filters.")
		} else {
			b.reply(chatID, "No jobs found matching your filters.")
		}
		return nil
	}

	header := fmt.Sprintf("📋 <b>Latest Jobs</b> (%d total)", len(matched))
	if newOnly {
		header = fmt.Sprintf("🆕 <b>New Jobs</b> (%d total)", len(matched))
	}
	b.reply(chatID, header)
	b.sendPostings(chatID, matched, "Use /latest to see the full list again.")
	return nil
}

func (b *Bot) cmdFavorites(ctx context.Context, chatID int64) error {
	sub, err := b.subs.Get(ctx, chatID)
	if errors.Is(err, storage.ErrNotFound) || (err == nil && len(sub.Favorites) == 0) {
		b.reply(chatID, "You don't have any saved jobs. Use the Save button on a job to keep it here.")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load subscriber %d: %w", chatID, err)
	}

	b.reply(chatID, fmt.Sprintf("📌 <b>Your Saved Jobs</b> (%d total)", len(sub.Favorites)))
	for _, id := range sub.Favorites {
		posting, ok := b.lookupRef(callbackToken(id))
		if !ok || posting.ID != id {
			// The posting left the feed since it was saved. The link is
			// gone, but the subscriber can still drop the entry.
			msg := tgbotapi.NewMessage(chatID, fmt.Sprintf("💾 <code>%s</code> (no longer in the feed)", escapeHTML(id)))
			msg.ParseMode = tgbotapi.ModeHTML
			msg.ReplyMarkup = removeKeyboard(id)
			if err := b.send(msg); err != nil {
				b.logger.Warn("Favorite send failed", "chat_id", chatID, "posting_id", id, "error", err)
			}
			continue
		}

		msg := tgbotapi.NewMessage(chatID, formatPosting(posting))
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("🔗 Apply", posting.Link),
				tgbotapi.NewInlineKeyboardButtonData("❌ Remove", "remove_"+callbackToken(id)),
			),
		)
		if err := b.send(msg); err != nil {
			b.logger.Warn("Favorite send failed", "chat_id", chatID, "posting_id", id, "error", err)
		}
	}
	return nil
}

func (b *Bot) handleCallback(ctx context.Context, query *tgbotapi.CallbackQuery) {
	if query.Message == nil {
		return
	}
	chatID := query.Message.Chat.ID

	var ack string
	switch {
	case strings.HasPrefix(query.Data, "save_"):
		ack = b.saveFavorite(ctx, chatID, query, strings.TrimPrefix(query.Data, "save_"))
	case strings.HasPrefix(query.Data, "remove_"):
		ack = b.removeFavorite(ctx, chatID, query, strings.TrimPrefix(query.Data, "remove_"))
	}

	if _, err := b.api.Request(tgbotapi.NewCallback(query.ID, ack)); err != nil {
		b.logger.Warn("Callback ack failed", "chat_id", chatID, "error", err)
	}
}

func (b *Bot) saveFavorite(ctx context.Context, chatID int64, query *tgbotapi.CallbackQuery, token string) string {
	posting, ok := b.lookupRef(token)
	if !ok {
		return "This job is no longer available to save."
	}
	if err := b.subs.AddFavorite(ctx, chatID, posting.ID); err != nil {
		b.logger.Error("Save favorite failed", "chat_id", chatID, "posting_id", posting.ID, "error", err)
		return "Could not save the job, please try again."
	}

	markup := tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonURL("🔗 Apply", posting.Link),
			tgbotapi.NewInlineKeyboardButtonData("✅ Saved", "remove_"+token),
		),
	)
	edit := tgbotapi.NewEditMessageReplyMarkup(chatID, query.Message.MessageID, markup)
	if _, err := b.api.Request(edit); err != nil {
		b.logger.Warn("Keyboard edit failed", "chat_id", chatID, "error", err)
	}
	return "Saved to favorites."
}

func (b *Bot) removeFavorite(ctx context.Context, chatID int64, query *tgbotapi.CallbackQuery, token string) string {
	var id string
	if posting, ok := b.lookupRef(token); ok {
		id = posting.ID
	} else if sub, err := b.subs.Get(ctx, chatID); err == nil {
		// Cache miss: recover the posting ID from the stored favorites.
		for _, fav := range sub.Favorites {
			if callbackToken(fav) == token {
				id = fav
				break
			}
		}
	}
	if id == "" {
		return "This job is no longer in your favorites."
	}
	if err := b.subs.RemoveFavorite(ctx, chatID, id); err != nil {
		b.logger.Error("Remove favorite failed", "chat_id", chatID, "posting_id", id, "error", err)
		return "Could not remove the job, please try again."
	}

	edit := tgbotapi.NewEditMessageText(chatID, query.Message.MessageID, "✅ Job removed from favorites.")
	if _, err := b.api.Request(edit); err != nil {
		b.logger.Warn("Message edit failed", "chat_id", chatID, "error", err)
	}
	return "Removed from favorites."
}

// Deliver sends one cycle's batch of matched postings to a subscriber. It
// satisfies the pipeline's notifier contract.
func (b *Bot) Deliver(_ context.Context, sub *jobs.Subscriber, postings []jobs.Posting) error {
	if len(postings) == 0 {
		return nil
	}

	header := tgbotapi.NewMessage(sub.ChatID, fmt.Sprintf("🔔 <b>New Jobs Alert!</b> (%d new)", len(postings)))
	header.ParseMode = tgbotapi.ModeHTML
	if err := b.send(header); err != nil {
		return fmt.Errorf("send alert header to %d: %w", sub.ChatID, err)
	}

	b.sendPostings(sub.ChatID, postings, "Use /latest new to see the rest.")
	return nil
}

// sendPostings sends up to maxPostingsPerBatch postings with Apply/Save
// buttons, then a trailer when more were matched than sent.
func (b *Bot) sendPostings(chatID int64, postings []jobs.Posting, moreHint string) {
	for _, p := range postings[:min(len(postings), maxPostingsPerBatch)] {
		token := b.remember(p)

		msg := tgbotapi.NewMessage(chatID, formatPosting(p))
		msg.ParseMode = tgbotapi.ModeHTML
		msg.DisableWebPagePreview = true
		msg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(
			tgbotapi.NewInlineKeyboardRow(
				tgbotapi.NewInlineKeyboardButtonURL("🔗 Apply", p.Link),
				tgbotapi.NewInlineKeyboardButtonData("💾 Save", "save_"+token),
			),
		)
		if err := b.send(msg); err != nil {
			b.logger.Warn("Posting send failed", "chat_id", chatID, "posting_id", p.ID, "error", err)
		}
	}

	if extra := len(postings) - maxPostingsPerBatch; extra > 0 {
		b.reply(chatID, fmt.Sprintf("... and %d more jobs. %s", extra, moreHint))
	}
}

// remember caches a posting behind its callback token. The cache is flushed
// wholesale when it grows past maxCallbackRefs; stale Save buttons then
// answer with "no longer available" instead of acting on the wrong posting.
func (b *Bot) remember(p jobs.Posting) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.refs == nil || len(b.refs) >= maxCallbackRefs {
		b.refs = make(map[string]jobs.Posting)
	}
	token := callbackToken(p.ID)
	b.refs[token] = p
	return token
}

func callbackToken(postingID string) string {
	return fmt.Sprintf("%x", md5.Sum([]byte(postingID)))[:16] //nolint:gosec // not security
}

func removeKeyboard(postingID string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("❌ Remove", "remove_"+callbackToken(postingID)),
		),
	)
}

func (b *Bot) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	if err := b.send(msg); err != nil {
		b.logger.Warn("Reply failed", "chat_id", chatID, "error", err)
	}
}

// send pushes one message through the Telegram API with retries. Rate
// limiting from Telegram surfaces as transient errors, which the backoff
// absorbs.
func (b *Bot) send(msg tgbotapi.MessageConfig) error {
	return retry.Do(
		func() error {
			_, err := b.api.Send(msg)
			if err != nil {
				return fmt.Errorf("telegram send: %w", err)
			}
			return nil
		},
		retry.Attempts(sendAttempts),
		retry.Delay(sendDelay),
		retry.MaxJitter(250*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			b.logger.Warn("Retrying Telegram send", "attempt", n+1, "chat_id", msg.ChatID, "error", err)
		}),
	)
}
