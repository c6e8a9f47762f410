// Package telegram serves the turn engine over the Telegram Bot API.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/haasonsaas/teller/internal/agent"
	"github.com/haasonsaas/teller/internal/backoff"
	"github.com/haasonsaas/teller/internal/channels"
	"github.com/haasonsaas/teller/internal/config"
	"github.com/haasonsaas/teller/internal/media/transcribe"
	"github.com/haasonsaas/teller/internal/observability"
	"github.com/haasonsaas/teller/internal/rag"
	tellermodels "github.com/haasonsaas/teller/pkg/models"
)

// ChannelName labels Telegram in conversation IDs, logs and metrics.
const ChannelName = "telegram"

// Mode represents how the adapter receives updates.
type Mode string

const (
	ModeLongPolling Mode = config.TelegramModePolling
	ModeWebhook     Mode = config.TelegramModeWebhook
)

const (
	callbackApprove = "approve:"
	callbackReject  = "reject:"

	StaleCallbackMessage = "This operation is no longer pending."

	IndexUnavailableMessage = "Document search is not configured."
	IndexForbiddenMessage   = "Reindexing is restricted to administrators."
	IndexStartedMessage     = "Reindexing documents..."
	IndexFailedMessage      = "Reindexing failed; the previous index is still in use."
	IndexNotLoadedMessage   = "Index status: not loaded"

	VoiceDisabledMessage = "Voice messages are not supported, please type your question."
	VoiceTooLongMessage  = "The voice message is too long, please keep it under %s."
	VoiceFailedMessage   = "I could not transcribe the voice message, please try again or type it."
	VoiceEmptyMessage    = "I could not make out any words in the voice message."

	HelpMessage = "I can answer questions about our cards and deposits, convert currencies " +
		"and open a credit card or a deposit for you.\n\n" +
		"Operations that change your accounts need your confirmation: use the buttons, " +
		"or reply with text to cancel and say why.\n\n" +
		"/start clears the conversation\n/index_status shows the document index\n/help shows this message"
)

// Config holds configuration for the Telegram adapter.
type Config struct {
	// Token is the bot token from @BotFather (required).
	Token string

	Mode Mode

	// WebhookURL is the public HTTPS URL Telegram posts updates to.
	WebhookURL string
	// ListenAddr is the local address of the webhook server, e.g. ":8443".
	ListenAddr    string
	WebhookSecret string

	MaxReconnectAttempts int
	ReconnectDelay       time.Duration

	// RateLimit is outbound API calls per second.
	RateLimit float64
	RateBurst int

	ShowSources bool
	MaxSources  int

	// TurnTimeout bounds a single RunTurn or ResumeTurn call, and the
	// download and transcription of a voice message.
	TurnTimeout time.Duration

	// Corpus backs /index and /index_status. Nil disables both.
	Corpus Corpus
	// AdminChats may run /index. Empty lets every chat reindex.
	AdminChats []int64

	// Transcriber turns voice messages into turn input. Nil declines them.
	Transcriber      transcribe.Transcriber
	VoiceLanguage    string
	MaxVoiceDuration time.Duration
	// HTTPClient downloads voice files (default: 60s timeout).
	HTTPClient *http.Client

	Logger *slog.Logger
}

// Corpus is the reloadable document index behind rag_search.
type Corpus interface {
	Reload(ctx context.Context) (int, error)
	Status() rag.LibraryStatus
}

// ConfigFrom maps the file configuration onto adapter settings.
func ConfigFrom(tg config.TelegramConfig, logger *slog.Logger) Config {
	return Config{
		Token:         tg.BotToken,
		Mode:          Mode(tg.Mode),
		WebhookURL:    tg.WebhookURL,
		ListenAddr:    tg.WebhookListen,
		WebhookSecret: tg.WebhookSecret,
		RateLimit:     tg.RateLimit,
		RateBurst:     tg.RateBurst,
		ShowSources:   tg.ShowSources,
		MaxSources:    tg.MaxSources,
		TurnTimeout:   tg.TurnTimeout,
		AdminChats:    tg.AdminChats,
		VoiceLanguage: tg.Voice.Language,
		Logger:        logger,

		MaxVoiceDuration: tg.Voice.MaxDuration,
	}
}

// Validate checks the configuration and applies defaults.
func (c *Config) Validate() error {
	if c.Token == "" {
		return channels.ErrConfig("token is required", nil)
	}
	if c.Mode == "" {
		c.Mode = ModeLongPolling
	}
	switch c.Mode {
	case ModeLongPolling:
	case ModeWebhook:
		if c.WebhookURL == "" {
			return channels.ErrConfig("webhook_url is required for webhook mode", nil)
		}
		if c.ListenAddr == "" {
			c.ListenAddr = ":8443"
		}
	default:
		return channels.ErrConfig(fmt.Sprintf("unknown mode %q", c.Mode), nil)
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = 5
	}
	if c.ReconnectDelay == 0 {
		c.ReconnectDelay = 5 * time.Second
	}
	if c.RateLimit == 0 {
		c.RateLimit = 25
	}
	if c.RateBurst == 0 {
		c.RateBurst = 5
	}
	if c.TurnTimeout == 0 {
		c.TurnTimeout = 2 * time.Minute
	}
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// Adapter connects Telegram chats to a TurnEngine. Every chat is one
// conversation, identified as "telegram:<chat id>".
type Adapter struct {
	config      Config
	engine      channels.TurnEngine
	client      BotClient
	rateLimiter *channels.RateLimiter
	metrics     *observability.Metrics
	logger      *slog.Logger

	queues chatQueues

	status   channels.Status
	degraded bool
	statusMu sync.RWMutex

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewAdapter creates an adapter. metrics may be nil.
func NewAdapter(cfg Config, engine channels.TurnEngine, metrics *observability.Metrics) (*Adapter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if engine == nil {
		return nil, channels.ErrConfig("turn engine is required", nil)
	}
	return &Adapter{
		config:      cfg,
		engine:      engine,
		rateLimiter: channels.NewRateLimiter(cfg.RateLimit, cfg.RateBurst),
		metrics:     metrics,
		logger:      cfg.Logger.With("adapter", ChannelName),
	}, nil
}

// Name implements channels.Adapter.
func (a *Adapter) Name() string { return ChannelName }

// Start connects to Telegram and begins handling updates in the
// background.
func (a *Adapter) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.logger.Info("starting telegram adapter",
		"mode", a.config.Mode,
		"rate_limit", a.config.RateLimit)

	if a.client == nil {
		opts := []bot.Option{
			// Handlers run on the dispatch goroutine so dispatchUpdate sees
			// updates in arrival order.
			bot.WithNotAsyncHandlers(),
			bot.WithDefaultHandler(a.dispatchUpdate),
			bot.WithErrorsHandler(func(err error) {
				a.logger.Warn("telegram api error", "error", err)
			}),
		}
		if a.config.WebhookSecret != "" {
			opts = append(opts, bot.WithWebhookSecretToken(a.config.WebhookSecret))
		}
		b, err := bot.New(a.config.Token, opts...)
		if err != nil {
			cancel()
			a.updateStatus(false, fmt.Sprintf("failed to create bot: %v", err))
			return channels.ErrAuthentication("failed to create bot", err)
		}
		a.client = newRealBotClient(b)
	}

	a.wg.Add(1)
	go a.runWithReconnection(ctx)

	a.logger.Info("telegram adapter started")
	return nil
}

func (a *Adapter) runWithReconnection(ctx context.Context) {
	defer a.wg.Done()

	policy := backoff.Policy{
		Initial: a.config.ReconnectDelay,
		Max:     10 * a.config.ReconnectDelay,
		Factor:  2,
		Jitter:  0.1,
	}
	for attempt := 1; ; attempt++ {
		err := a.run(ctx)
		if err == nil || ctx.Err() != nil {
			a.setDegraded(false)
			a.updateStatus(false, "")
			a.logger.Info("telegram adapter stopped")
			return
		}

		a.setDegraded(true)
		a.updateStatus(false, fmt.Sprintf("bot error (attempt %d/%d): %v", attempt, a.config.MaxReconnectAttempts, err))
		a.logger.Error("telegram bot error",
			"error", err,
			"attempt", attempt,
			"max_attempts", a.config.MaxReconnectAttempts)

		if attempt >= a.config.MaxReconnectAttempts {
			a.logger.Error("max reconnection attempts reached, stopping adapter")
			return
		}
		if backoff.Sleep(ctx, backoff.Compute(policy, attempt)) != nil {
			a.updateStatus(false, "")
			return
		}
		a.logger.Info("attempting to reconnect")
	}
}

func (a *Adapter) run(ctx context.Context) error {
	if _, err := a.client.GetMe(ctx); err != nil {
		return channels.ErrConnection("getMe failed", err)
	}
	a.updateStatus(true, "")
	a.setDegraded(false)

	if a.config.Mode == ModeWebhook {
		return a.runWebhook(ctx)
	}
	return a.runLongPolling(ctx)
}

func (a *Adapter) runLongPolling(ctx context.Context) error {
	a.logger.Info("starting long polling mode")
	// Polling is refused while a webhook is registered.
	if _, err := a.client.DeleteWebhook(ctx, &bot.DeleteWebhookParams{}); err != nil {
		return channels.ErrConnection("failed to delete webhook", err)
	}
	a.client.Start(ctx)
	return nil
}

func (a *Adapter) runWebhook(ctx context.Context) error {
	a.logger.Info("starting webhook mode", "url", a.config.WebhookURL, "listen", a.config.ListenAddr)

	if _, err := a.client.SetWebhook(ctx, &bot.SetWebhookParams{
		URL:         a.config.WebhookURL,
		SecretToken: a.config.WebhookSecret,
	}); err != nil {
		return channels.ErrConnection("failed to set webhook", err)
	}

	mux := http.NewServeMux()
	mux.Handle(webhookPath(a.config.WebhookURL), a.client.WebhookHandler())
	server := &http.Server{
		Addr:              a.config.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	listener, err := net.Listen("tcp", a.config.ListenAddr)
	if err != nil {
		return channels.ErrConnection("failed to listen for webhook", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	dispatchCtx, stopDispatch := context.WithCancel(ctx)
	defer stopDispatch()
	go a.client.StartWebhook(dispatchCtx)

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return channels.ErrConnection("webhook server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func webhookPath(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "/"
	}
	return u.Path
}

// Stop cancels update handling and waits for in-flight turns.
func (a *Adapter) Stop(ctx context.Context) error {
	a.logger.Info("stopping telegram adapter")
	if a.cancel != nil {
		a.cancel()
	}

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		a.queues.wait()
		close(done)
	}()

	select {
	case <-done:
		a.logger.Info("telegram adapter stopped gracefully")
		return nil
	case <-ctx.Done():
		return channels.ErrTimeout("stop timeout", ctx.Err())
	}
}

// Status returns the current connection status.
func (a *Adapter) Status() channels.Status {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.status
}

// HealthCheck calls getMe to verify authentication and connectivity.
func (a *Adapter) HealthCheck(ctx context.Context) channels.HealthStatus {
	start := time.Now()
	health := channels.HealthStatus{LastCheck: start}

	if a.client == nil {
		health.Message = "bot not initialized"
		health.Latency = time.Since(start)
		return health
	}

	_, err := a.client.GetMe(ctx)
	health.Latency = time.Since(start)
	if err != nil {
		health.Message = fmt.Sprintf("health check failed: %v", err)
		a.logger.Warn("health check failed", "error", err, "latency_ms", health.Latency.Milliseconds())
		return health
	}

	health.Healthy = true
	health.Degraded = a.isDegraded()
	if health.Degraded {
		health.Message = "operating in degraded mode"
	} else {
		health.Message = "healthy"
	}
	return health
}

// dispatchUpdate is the bot's default handler. It queues the update on its
// chat, so updates of one chat are handled in arrival order while different
// chats proceed concurrently.
func (a *Adapter) dispatchUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}
	a.touch()

	var chatID int64
	switch {
	case update.CallbackQuery != nil:
		id, _, ok := callbackChat(update.CallbackQuery)
		if !ok {
			a.answerCallback(ctx, update.CallbackQuery.ID, "")
			return
		}
		chatID = id
	case update.Message != nil:
		chatID = update.Message.Chat.ID
	default:
		return
	}
	a.queues.enqueue(chatID, func() { a.handleUpdate(ctx, b, update) })
}

// handleUpdate handles one update synchronously.
func (a *Adapter) handleUpdate(ctx context.Context, _ *bot.Bot, update *models.Update) {
	if update == nil {
		return
	}
	switch {
	case update.CallbackQuery != nil:
		chatID, messageID, ok := callbackChat(update.CallbackQuery)
		if !ok {
			a.answerCallback(ctx, update.CallbackQuery.ID, "")
			return
		}
		a.handleCallback(ctx, chatID, messageID, update.CallbackQuery)
	case update.Message != nil:
		a.handleMessage(ctx, update.Message)
	}
}

func (a *Adapter) handleMessage(ctx context.Context, msg *models.Message) {
	text := strings.TrimSpace(msg.Text)
	if text == "" && msg.Voice == nil {
		a.logger.Debug("ignoring non-text message", "chat_id", msg.Chat.ID)
		return
	}
	a.metrics.MessageReceived(ChannelName)

	chatID := msg.Chat.ID
	conversationID := ConversationID(chatID)
	logger := a.logger.With("chat_id", chatID, "conversation_id", conversationID)

	if text == "" {
		var ok bool
		if text, ok = a.transcribeVoice(ctx, chatID, msg.Voice, logger); !ok {
			return
		}
	} else if command, ok := parseCommand(text); ok {
		switch command {
		case "start", "reset":
			if err := a.engine.Reset(ctx, conversationID); err != nil {
				logger.Error("failed to reset conversation", "error", err)
				a.sendText(ctx, chatID, channels.UserFacingError(err))
				return
			}
			a.sendText(ctx, chatID, channels.ResetMessage)
			return
		case "help":
			a.sendText(ctx, chatID, HelpMessage)
			return
		case "index":
			a.reindex(ctx, chatID, logger)
			return
		case "index_status":
			a.sendText(ctx, chatID, a.indexStatus())
			return
		}
	}
	logger.Debug("received message", "length", len(text))

	turnCtx, cancel := context.WithTimeout(ctx, a.config.TurnTimeout)
	defer cancel()

	pending, err := a.engine.PendingInterrupt(turnCtx, conversationID)
	if err != nil {
		logger.Error("failed to load pending operation", "error", err)
		a.sendText(ctx, chatID, channels.UserFacingError(err))
		return
	}

	a.sendTyping(ctx, chatID)
	var result *agent.TurnResult
	if pending != nil {
		logger.Info("text reply rejects pending operation", "interrupt_id", pending.ID, "tool", pending.Call.Name)
		result, err = a.engine.ResumeTurn(turnCtx, conversationID, tellermodels.DecisionReject, text)
	} else {
		result, err = a.engine.RunTurn(turnCtx, conversationID, text)
	}
	a.deliver(ctx, chatID, result, err)
}

// transcribeVoice returns the text of a voice message, or reports the
// failure to the chat and returns false.
func (a *Adapter) transcribeVoice(ctx context.Context, chatID int64, voice *models.Voice, logger *slog.Logger) (string, bool) {
	if a.config.Transcriber == nil {
		a.sendText(ctx, chatID, VoiceDisabledMessage)
		return "", false
	}
	if limit := a.config.MaxVoiceDuration; limit > 0 && time.Duration(voice.Duration)*time.Second > limit {
		logger.Info("voice message too long", "duration_s", voice.Duration)
		a.sendText(ctx, chatID, fmt.Sprintf(VoiceTooLongMessage, limit))
		return "", false
	}

	a.sendTyping(ctx, chatID)
	start := time.Now()
	text, err := a.transcribe(ctx, voice)
	if err != nil {
		logger.Error("voice transcription failed", "error", err)
		a.sendText(ctx, chatID, VoiceFailedMessage)
		return "", false
	}
	text = strings.TrimSpace(text)
	if text == "" {
		a.sendText(ctx, chatID, VoiceEmptyMessage)
		return "", false
	}
	logger.Info("voice message transcribed",
		"duration_s", voice.Duration,
		"text_length", len(text),
		"elapsed_ms", time.Since(start).Milliseconds())
	return text, true
}

func (a *Adapter) transcribe(ctx context.Context, voice *models.Voice) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.config.TurnTimeout)
	defer cancel()

	file, err := a.client.GetFile(ctx, &bot.GetFileParams{FileID: voice.FileID})
	if err != nil {
		return "", fmt.Errorf("get file: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.client.FileDownloadLink(file), nil)
	if err != nil {
		return "", fmt.Errorf("build download request: %w", err)
	}
	resp, err := a.config.HTTPClient.Do(req)
	if err != nil {
		// The link embeds the bot token; keep it out of the error.
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return "", fmt.Errorf("download voice file: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download voice file: status %d", resp.StatusCode)
	}

	audio := io.LimitReader(resp.Body, transcribe.MaxAudioBytes+1)
	return a.config.Transcriber.Transcribe(ctx, audio, transcribe.FilenameForMimeType(voice.MimeType), a.config.VoiceLanguage)
}

func (a *Adapter) reindex(ctx context.Context, chatID int64, logger *slog.Logger) {
	if a.config.Corpus == nil || !a.config.Corpus.Status().Configured {
		a.sendText(ctx, chatID, IndexUnavailableMessage)
		return
	}
	if !a.isAdmin(chatID) {
		logger.Warn("reindex refused for non-admin chat")
		a.sendText(ctx, chatID, IndexForbiddenMessage)
		return
	}

	logger.Info("reindex requested")
	a.sendText(ctx, chatID, IndexStartedMessage)
	start := time.Now()
	passages, err := a.config.Corpus.Reload(ctx)
	if err != nil {
		logger.Error("reindex failed", "error", err)
		a.sendText(ctx, chatID, IndexFailedMessage)
		return
	}
	logger.Info("reindex finished", "passages", passages, "elapsed_ms", time.Since(start).Milliseconds())
	a.sendText(ctx, chatID, fmt.Sprintf("Reindexing finished: %d passages indexed.", passages))
}

func (a *Adapter) indexStatus() string {
	if a.config.Corpus == nil {
		return IndexUnavailableMessage
	}
	status := a.config.Corpus.Status()
	switch {
	case !status.Configured:
		return IndexUnavailableMessage
	case status.LoadedAt.IsZero():
		return IndexNotLoadedMessage
	default:
		return fmt.Sprintf("Index status: ready\nPassages: %d\nLoaded: %s",
			status.Passages, status.LoadedAt.UTC().Format(time.RFC3339))
	}
}

func (a *Adapter) isAdmin(chatID int64) bool {
	if len(a.config.AdminChats) == 0 {
		return true
	}
	for _, id := range a.config.AdminChats {
		if id == chatID {
			return true
		}
	}
	return false
}

func (a *Adapter) handleCallback(ctx context.Context, chatID int64, messageID int, query *models.CallbackQuery) {
	decision, interruptID, ok := parseCallback(query.Data)
	if !ok {
		a.answerCallback(ctx, query.ID, "")
		return
	}
	a.metrics.MessageReceived(ChannelName)

	conversationID := ConversationID(chatID)
	logger := a.logger.With("chat_id", chatID, "conversation_id", conversationID, "interrupt_id", interruptID)

	turnCtx, cancel := context.WithTimeout(ctx, a.config.TurnTimeout)
	defer cancel()

	pending, err := a.engine.PendingInterrupt(turnCtx, conversationID)
	if err != nil {
		logger.Error("failed to load pending operation", "error", err)
		a.answerCallback(ctx, query.ID, channels.UserFacingError(err))
		return
	}
	a.clearButtons(ctx, chatID, messageID)
	if pending == nil || pending.ID != interruptID {
		logger.Info("ignoring stale approval button")
		a.answerCallback(ctx, query.ID, StaleCallbackMessage)
		return
	}
	a.answerCallback(ctx, query.ID, "")

	logger.Info("operation decided", "decision", decision, "tool", pending.Call.Name)
	a.sendTyping(ctx, chatID)
	result, err := a.engine.ResumeTurn(turnCtx, conversationID, decision, "")
	a.deliver(ctx, chatID, result, err)
}

func (a *Adapter) deliver(ctx context.Context, chatID int64, result *agent.TurnResult, err error) {
	if err != nil {
		a.logger.Error("turn failed", "chat_id", chatID, "error", err)
		a.sendText(ctx, chatID, channels.UserFacingError(err))
		return
	}
	switch result.Status {
	case agent.StatusAwaitingApproval:
		a.sendApproval(ctx, chatID, result.Interrupt)
	case agent.StatusFailed:
		a.logger.Warn("turn stopped by limit", "chat_id", chatID, "limit", result.Limit)
		a.sendText(ctx, chatID, channels.FormatAnswer(result, false, 0))
	default:
		a.sendText(ctx, chatID, channels.FormatAnswer(result, a.config.ShowSources, a.config.MaxSources))
	}
}

func (a *Adapter) sendApproval(ctx context.Context, chatID int64, interrupt *tellermodels.Interrupt) {
	if interrupt == nil {
		a.sendText(ctx, chatID, channels.InternalErrorMessage)
		return
	}
	markup := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: "Approve", CallbackData: callbackApprove + interrupt.ID},
			{Text: "Reject", CallbackData: callbackReject + interrupt.ID},
		}},
	}
	a.send(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        channels.DescribeInterrupt(interrupt),
		ReplyMarkup: markup,
	})
}

// sendText delivers text in as many messages as the length limit needs.
func (a *Adapter) sendText(ctx context.Context, chatID int64, text string) {
	for _, chunk := range channels.SplitMessage(text, channels.TelegramMaxMessageLength) {
		if !a.send(ctx, &bot.SendMessageParams{ChatID: chatID, Text: chunk}) {
			return
		}
	}
}

func (a *Adapter) send(ctx context.Context, params *bot.SendMessageParams) bool {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		a.logger.Warn("rate limit wait cancelled", "error", err)
		return false
	}
	if _, err := a.client.SendMessage(ctx, params); err != nil {
		a.logger.Error("failed to send message", "chat_id", params.ChatID, "error", err)
		return false
	}
	a.metrics.MessageSent(ChannelName)
	return true
}

func (a *Adapter) sendTyping(ctx context.Context, chatID int64) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return
	}
	if _, err := a.client.SendChatAction(ctx, &bot.SendChatActionParams{
		ChatID: chatID,
		Action: models.ChatActionTyping,
	}); err != nil {
		a.logger.Debug("failed to send typing action", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) answerCallback(ctx context.Context, queryID, text string) {
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return
	}
	if _, err := a.client.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
	}); err != nil {
		a.logger.Debug("failed to answer callback", "error", err)
	}
}

func (a *Adapter) clearButtons(ctx context.Context, chatID int64, messageID int) {
	if messageID == 0 {
		return
	}
	if err := a.rateLimiter.Wait(ctx); err != nil {
		return
	}
	if _, err := a.client.EditMessageReplyMarkup(ctx, &bot.EditMessageReplyMarkupParams{
		ChatID:      chatID,
		MessageID:   messageID,
		ReplyMarkup: &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{}},
	}); err != nil {
		a.logger.Debug("failed to remove buttons", "chat_id", chatID, "error", err)
	}
}

func (a *Adapter) updateStatus(connected bool, errMsg string) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.Connected = connected
	a.status.Error = errMsg
}

func (a *Adapter) touch() {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.status.LastPing = time.Now().Unix()
}

func (a *Adapter) setDegraded(degraded bool) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()
	a.degraded = degraded
}

func (a *Adapter) isDegraded() bool {
	a.statusMu.RLock()
	defer a.statusMu.RUnlock()
	return a.degraded
}

// ConversationID returns the conversation a chat maps to.
func ConversationID(chatID int64) string {
	return fmt.Sprintf("%s:%d", ChannelName, chatID)
}

// parseCommand returns the lower-cased command name of a "/cmd" or
// "/cmd@botname" message.
func parseCommand(text string) (string, bool) {
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.Fields(text)[0][1:]
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	if name == "" {
		return "", false
	}
	return strings.ToLower(name), true
}

func parseCallback(data string) (tellermodels.Decision, string, bool) {
	switch {
	case strings.HasPrefix(data, callbackApprove):
		return tellermodels.DecisionApprove, strings.TrimPrefix(data, callbackApprove), true
	case strings.HasPrefix(data, callbackReject):
		return tellermodels.DecisionReject, strings.TrimPrefix(data, callbackReject), true
	default:
		return "", "", false
	}
}

func callbackChat(query *models.CallbackQuery) (chatID int64, messageID int, ok bool) {
	switch {
	case query.Message.Message != nil:
		return query.Message.Message.Chat.ID, query.Message.Message.ID, true
	case query.Message.InaccessibleMessage != nil:
		return query.Message.InaccessibleMessage.Chat.ID, query.Message.InaccessibleMessage.MessageID, true
	default:
		return 0, 0, false
	}
}
