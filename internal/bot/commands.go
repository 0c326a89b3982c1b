package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"tourbook/internal/checkout"
	"tourbook/internal/logging"
	"tourbook/internal/models"
	"tourbook/internal/service"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const helpText = `👋 Tour booking assistant

/link <userId> - sign in with your marketplace account
/book <activityId> - pick a date, time slot and guests, then pay
/save <activityId> - add an activity to your wishlist
/unsave <activityId> - remove it again
/wishlist - show saved activities
/logout - sign out and clear your wishlist`

const managerHelpText = `

Support:
/escalations [from to] - export post-payment failures (dates as YYYY-MM-DD)`

var knownCommands = map[string]bool{
	"start": true, "help": true, "link": true, "logout": true, "book": true,
	"save": true, "unsave": true, "wishlist": true, "escalations": true,
}

func commandLabel(msg *tgbotapi.Message) string {
	if cmd := msg.Command(); knownCommands[cmd] {
		return cmd
	}
	return "other"
}

func (b *Bot) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	if b.metrics != nil {
		b.metrics.CommandsProcessed.WithLabelValues(commandLabel(msg)).Inc()
	}

	chatID := msg.Chat.ID
	args := strings.TrimSpace(msg.CommandArguments())

	switch msg.Command() {
	case "start", "help":
		text := helpText
		if b.isManager(msg.From.ID) {
			text += managerHelpText
		}
		b.sendMessage(chatID, text)
	case "link":
		b.handleLink(ctx, chatID, args)
	case "logout":
		b.handleLogout(ctx, chatID)
	case "book":
		b.handleBook(ctx, chatID, args)
	case "save":
		b.handleWishlistChange(ctx, chatID, args, true)
	case "unsave":
		b.handleWishlistChange(ctx, chatID, args, false)
	case "wishlist":
		b.handleWishlist(ctx, chatID)
	case "escalations":
		if !b.isManager(msg.From.ID) {
			b.sendMessage(chatID, "This command is available to support managers only.")
			return
		}
		b.handleEscalations(ctx, chatID, args)
	default:
		b.sendMessage(chatID, "Unknown command. Send /help for the list of commands.")
	}
}

func (b *Bot) handleLink(ctx context.Context, chatID int64, userID string) {
	s, err := b.sessions.Login(ctx, chatID, userID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	b.sendMessage(chatID, "✅ Signed in as "+s.UserID+". Send /book <activityId> to start a booking.")
}

func (b *Bot) handleLogout(ctx context.Context, chatID int64) {
	messageID, hadScreen := b.dropScreen(chatID)
	if err := b.sessions.Logout(ctx, chatID); err != nil && !errors.Is(err, service.ErrNotLoggedIn) {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("logout")
	}
	if hadScreen {
		b.editMessage(chatID, messageID, "Checkout closed.", nil)
	}
	b.sendMessage(chatID, "👋 Signed out. Your wishlist was cleared.")
}

func (b *Bot) handleBook(ctx context.Context, chatID int64, activityID string) {
	s, err := b.sessions.Get(chatID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	if activityID == "" {
		b.sendMessage(chatID, "Usage: /book <activityId>")
		return
	}

	window, err := b.backend.GetActivity(ctx, activityID)
	if err != nil {
		b.logger.Warn().Err(err).Str("activity_id", activityID).Msg("load activity")
		b.replyError(chatID, err)
		return
	}

	flow := checkout.NewFlow(window, s.UserID, b.backend, &chatSheet{bot: b, chatID: chatID, timeout: paymentTimeout}, b.eventBus, b.loc,
		logging.Chat(b.logger, chatID))
	if messageID, ok := b.dropScreen(chatID); ok {
		b.editMessage(chatID, messageID, "Checkout replaced by a new booking.", nil)
	}
	s.ReplaceFlow(flow)

	notice := ""
	if err := flow.Start(ctx); err != nil {
		n := checkout.Classify(err)
		if !n.Silent() {
			notice = n.Message
		}
	}
	b.openScreen(chatID, flow, notice)
}

func (b *Bot) handleWishlistChange(ctx context.Context, chatID int64, activityID string, save bool) {
	s, err := b.sessions.Get(chatID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}

	activityID = strings.TrimSpace(activityID)
	if activityID == "" {
		b.replyError(chatID, service.ErrEmptyListing)
		return
	}

	saved, err := s.Wishlist.Contains(ctx, activityID)
	if err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("wishlist lookup")
		b.replyError(chatID, err)
		return
	}
	// Re-saving would move the entry to the end of the list.
	if save && saved {
		b.sendMessage(chatID, activityID+" is already in your wishlist.")
		return
	}
	if !save && !saved {
		b.sendMessage(chatID, activityID+" is not in your wishlist.")
		return
	}

	if save {
		err = s.Wishlist.Save(ctx, activityID)
	} else {
		err = s.Wishlist.Remove(ctx, activityID)
	}
	if err != nil {
		b.logger.Warn().Err(err).Int64("chat_id", chatID).Msg("wishlist change")
		b.replyError(chatID, err)
		return
	}

	if save {
		b.sendMessage(chatID, "❤️ Saved "+activityID+".")
	} else {
		b.sendMessage(chatID, "Removed "+activityID+" from your wishlist.")
	}
}

func (b *Bot) handleWishlist(ctx context.Context, chatID int64) {
	s, err := b.sessions.Get(chatID)
	if err != nil {
		b.replyError(chatID, err)
		return
	}
	entries, err := s.Wishlist.Items(ctx)
	if err != nil {
		b.logger.Error().Err(err).Int64("chat_id", chatID).Msg("load wishlist")
		b.sendMessage(chatID, "❌ Could not load your wishlist. Please try again.")
		return
	}
	b.sendMessage(chatID, formatWishlist(entries))
}

func (b *Bot) handleEscalations(ctx context.Context, chatID int64, args string) {
	from, to, err := parseExportRange(args, time.Now().In(b.loc), b.loc)
	if err != nil {
		b.sendMessage(chatID, "Usage: /escalations [from to], dates as YYYY-MM-DD.")
		return
	}
	b.sendEscalationExport(ctx, chatID, from, to)
}

// parseExportRange returns the half-open range [from, to) of whole days.
// Without arguments it covers the last 30 days including today.
func parseExportRange(args string, now time.Time, loc *time.Location) (time.Time, time.Time, error) {
	fields := strings.Fields(args)
	switch len(fields) {
	case 0:
		today := models.DateOf(now)
		return today.AddDays(-29).In(loc), today.AddDays(1).In(loc), nil
	case 2:
		from, err := models.ParseDate(fields[0])
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		to, err := models.ParseDate(fields[1])
		if err != nil {
			return time.Time{}, time.Time{}, err
		}
		if to.Before(from) {
			return time.Time{}, time.Time{}, errors.New("range end is before its start")
		}
		return from.In(loc), to.AddDays(1).In(loc), nil
	default:
		return time.Time{}, time.Time{}, errors.New("expected zero or two dates")
	}
}

func (b *Bot) replyError(chatID int64, err error) {
	msg := userMessage(err)
	if msg == "" {
		msg = "Something went wrong. Please try again."
	}
	b.sendMessage(chatID, msg)
}
