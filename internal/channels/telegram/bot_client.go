package telegram

import (
	"context"
	"net/http"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// BotClient is the subset of the Bot API the adapter uses. Tests replace
// it with a recording fake.
type BotClient interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
	EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error)
	GetMe(ctx context.Context) (*models.User, error)

	GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error)
	// FileDownloadLink returns the URL of a file returned by GetFile. It
	// embeds the bot token.
	FileDownloadLink(file *models.File) string

	SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error)
	DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error)

	// Start runs long polling until ctx is done.
	Start(ctx context.Context)
	// StartWebhook dispatches updates received by WebhookHandler until
	// ctx is done.
	StartWebhook(ctx context.Context)
	WebhookHandler() http.HandlerFunc
}

type realBotClient struct {
	bot *bot.Bot
}

func newRealBotClient(b *bot.Bot) BotClient {
	return &realBotClient{bot: b}
}

func (r *realBotClient) SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error) {
	return r.bot.SendMessage(ctx, params)
}

func (r *realBotClient) SendChatAction(ctx context.Context, params *bot.SendChatActionParams) (bool, error) {
	return r.bot.SendChatAction(ctx, params)
}

func (r *realBotClient) AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error) {
	return r.bot.AnswerCallbackQuery(ctx, params)
}

func (r *realBotClient) EditMessageReplyMarkup(ctx context.Context, params *bot.EditMessageReplyMarkupParams) (*models.Message, error) {
	return r.bot.EditMessageReplyMarkup(ctx, params)
}

func (r *realBotClient) GetMe(ctx context.Context) (*models.User, error) {
	return r.bot.GetMe(ctx)
}

func (r *realBotClient) GetFile(ctx context.Context, params *bot.GetFileParams) (*models.File, error) {
	return r.bot.GetFile(ctx, params)
}

func (r *realBotClient) FileDownloadLink(file *models.File) string {
	return r.bot.FileDownloadLink(file)
}

func (r *realBotClient) SetWebhook(ctx context.Context, params *bot.SetWebhookParams) (bool, error) {
	return r.bot.SetWebhook(ctx, params)
}

func (r *realBotClient) DeleteWebhook(ctx context.Context, params *bot.DeleteWebhookParams) (bool, error) {
	return r.bot.DeleteWebhook(ctx, params)
}

func (r *realBotClient) Start(ctx context.Context) {
	r.bot.Start(ctx)
}

func (r *realBotClient) StartWebhook(ctx context.Context) {
	r.bot.StartWebhook(ctx)
}

func (r *realBotClient) WebhookHandler() http.HandlerFunc {
	return r.bot.WebhookHandler()
}
