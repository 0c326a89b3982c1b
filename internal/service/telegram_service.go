package service

import (
	"strings"
	"unicode/utf8"

	"tourbook/internal/domain"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

const (
	// maxMessageRunes is the Telegram limit for message text.
	maxMessageRunes = 4096
	// maxCaptionRunes is the Telegram limit for document captions.
	maxCaptionRunes = 1024
)

// TelegramService sends checkout screens and notices as plain text.
// Activity titles and slot labels come from the marketplace backend,
// so no parse mode is ever applied.
type TelegramService struct {
	bot domain.TelegramSender
}

func NewTelegramService(bot domain.TelegramSender) *TelegramService {
	return &TelegramService{
		bot: bot,
	}
}

func (s *TelegramService) SendMessage(chatID int64, text string) (tgbotapi.Message, error) {
	return s.bot.Send(newMessage(chatID, text))
}

func (s *TelegramService) SendWithInlineKeyboard(
	chatID int64,
	text string,
	keyboard tgbotapi.InlineKeyboardMarkup,
) (tgbotapi.Message, error) {
	msg := newMessage(chatID, text)
	msg.ReplyMarkup = keyboard
	return s.bot.Send(msg)
}

// EditMessage replaces the text of a checkout screen. An edit that
// changes nothing is not an error.
func (s *TelegramService) EditMessage(
	chatID int64,
	messageID int,
	text string,
	keyboard *tgbotapi.InlineKeyboardMarkup,
) (tgbotapi.Message, error) {
	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncate(text, maxMessageRunes))
	edit.DisableWebPagePreview = true
	if keyboard != nil {
		edit.ReplyMarkup = keyboard
	}

	sent, err := s.bot.Send(edit)
	if err != nil && IsNotModified(err) {
		return sent, nil
	}
	return sent, err
}

func (s *TelegramService) AnswerCallback(callbackID, text string) error {
	callback := tgbotapi.NewCallback(callbackID, truncate(text, 200))
	_, err := s.bot.Request(callback)
	return err
}

func (s *TelegramService) SendDocument(chatID int64, fileName string, data []byte, caption string) (tgbotapi.Message, error) {
	doc := tgbotapi.NewDocument(chatID, tgbotapi.FileBytes{Name: fileName, Bytes: data})
	doc.Caption = truncate(caption, maxCaptionRunes)
	return s.bot.Send(doc)
}

func (s *TelegramService) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return s.bot.GetUpdatesChan(config)
}

func (s *TelegramService) GetSelf() tgbotapi.User {
	return s.bot.GetSelf()
}

func (s *TelegramService) StopReceivingUpdates() {
	s.bot.StopReceivingUpdates()
}

// IsNotModified reports whether Telegram rejected an edit because the
// new content equals the current one.
func IsNotModified(err error) bool {
	return err != nil && strings.Contains(err.Error(), "message is not modified")
}

func newMessage(chatID int64, text string) tgbotapi.MessageConfig {
	msg := tgbotapi.NewMessage(chatID, truncate(text, maxMessageRunes))
	msg.DisableWebPagePreview = true
	return msg
}

func truncate(text string, limit int) string {
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit-1]) + "…"
}
