package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	e "nuclight.org/video-relay-bot/pkg/entities"
	"nuclight.org/video-relay-bot/pkg/logger"
)

type MessageHandler interface {
	HandleMessage(ctx context.Context, msg e.Message) error
}

type PanicReporter interface {
	Recover(v any, tags map[string]string)
}

const DefaultHTTPTimeout = 5 * time.Minute

type Client struct {
	Log        logger.Logger
	APIToken   string
	WorkersNum int
	Handler    MessageHandler

	// APIEndpoint overrides tgbotapi.APIEndpoint
	APIEndpoint string

	// HTTPTimeout bounds every Bot API call, uploads included
	HTTPTimeout time.Duration

	// Reporter receives recovered panics, optional
	Reporter PanicReporter

	bot *tgbotapi.BotAPI
	wg  sync.WaitGroup
}

func (c *Client) Start(ctx context.Context) (err error) {
	if c.WorkersNum == 0 {
		return fmt.Errorf("workers number must be greater than 0")
	}

	if err := c.connect(); err != nil {
		return err
	}

	updatesConf := tgbotapi.NewUpdate(0)
	updatesConf.Timeout = 60
	updatesConf.AllowedUpdates = []string{"message"}

	updatesChan := c.bot.GetUpdatesChan(updatesConf)

	for i := 0; i < c.WorkersNum; i++ {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.handleUpdatesFromChan(ctx, updatesChan)
		}()
	}

	go func() {
		<-ctx.Done()
		c.bot.StopReceivingUpdates()
	}()

	return nil
}

func (c *Client) connect() (err error) {
	timeout := c.HTTPTimeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}

	endpoint := c.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	c.bot, err = tgbotapi.NewBotAPIWithClient(c.APIToken, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return fmt.Errorf("creating bot api: %w", err)
	}

	c.Log.Info("bot api created", "username", c.bot.Self.UserName)

	return nil
}

func (c *Client) Wait() {
	c.wg.Wait()
}

func (c *Client) handleUpdatesFromChan(ctx context.Context, updatesChan tgbotapi.UpdatesChannel) {
	for {
		select {
		case <-ctx.Done():
			return
		case update, ok := <-updatesChan:
			if !ok {
				return
			}
			err := c.handleUpdate(ctx, update)
			if err != nil {
				c.Log.Error("handling update", "tg_update_id", update.UpdateID, "error", err)
			}
		}
	}
}

func (c *Client) handleUpdate(ctx context.Context, update tgbotapi.Update) (err error) {
	log := c.Log.With("tg_update_id", update.UpdateID)

	defer func() {
		if v := recover(); v != nil {
			log.Error("panic", "error", v)
			if c.Reporter != nil {
				c.Reporter.Recover(v, map[string]string{"tg_update_id": strconv.Itoa(update.UpdateID)})
			}
			err = fmt.Errorf("panic: %v", v)
		}
	}()

	if update.Message == nil {
		log.Debug("update without message")
		return nil
	}

	if update.Message.From == nil {
		log.Warn("message from is nil")
		return nil
	}

	if update.Message.Chat == nil {
		log.Warn("message chat is nil")
		return nil
	}

	log.Info(
		"new message",
		"tg_message_id", update.Message.MessageID,
		"tg_user_id", update.Message.From.ID,
		"tg_user_nick", update.Message.From.UserName,
		"tg_chat_id", update.Message.Chat.ID,
		"tg_chat_title", update.Message.Chat.Title,
		"text", update.Message.Text,
	)

	err = c.Handler.HandleMessage(ctx, toMessage(update.Message))
	if err != nil {
		return fmt.Errorf("handling message: %w", err)
	}

	return nil
}

// tgbotapi requests take no context, so a call cannot be interrupted once it
// started. SendText and SendVideo refuse to start after ctx is done.

// SendText posts text as a reply and returns the new message id.
func (c *Client) SendText(ctx context.Context, chatID int64, replyTo int, text string) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("sending message: %w", err)
	}

	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyTo
	msg.AllowSendingWithoutReply = true
	msg.DisableWebPagePreview = true

	sent, err := c.bot.Send(msg)
	if err != nil {
		return 0, err
	}

	return sent.MessageID, nil
}

// SendVideo uploads the file at path as a silent reply. tgbotapi's
// VideoConfig predates has_spoiler, so the request is built by hand.
func (c *Client) SendVideo(ctx context.Context, chatID int64, replyTo int, path string, spoiler bool) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("uploading video: %w", err)
	}

	files := []tgbotapi.RequestFile{{
		Name: "video",
		Data: tgbotapi.FilePath(path),
	}}

	_, err := c.bot.UploadFiles("sendVideo", videoParams(chatID, replyTo, spoiler), files)
	if err != nil {
		return fmt.Errorf("uploading video: %w", err)
	}

	return nil
}

// DeleteMessage runs even after ctx is done so status messages are cleaned up
// on shutdown.
func (c *Client) DeleteMessage(_ context.Context, chatID int64, messageID int) error {
	conf := tgbotapi.NewDeleteMessage(chatID, messageID)
	_, err := c.bot.Request(conf)
	return err
}

func videoParams(chatID int64, replyTo int, spoiler bool) tgbotapi.Params {
	params := tgbotapi.Params{
		"chat_id":                     strconv.FormatInt(chatID, 10),
		"disable_notification":        "true",
		"supports_streaming":          "true",
		"allow_sending_without_reply": "true",
	}

	if replyTo != 0 {
		params["reply_to_message_id"] = strconv.Itoa(replyTo)
	}

	if spoiler {
		params["has_spoiler"] = "true"
	}

	return params
}

func toMessage(message *tgbotapi.Message) e.Message {
	msg := e.Message{
		ID: message.MessageID,
		Sender: e.User{
			ID:           message.From.ID,
			UserName:     message.From.UserName,
			Name:         takeUserName(message.From),
			LanguageCode: message.From.LanguageCode,
		},
		Chat: e.Chat{
			ID:      message.Chat.ID,
			Title:   message.Chat.Title,
			Private: message.Chat.IsPrivate(),
		},
		Text: strings.TrimSpace(message.Text),
	}

	if message.IsCommand() {
		msg.Command = message.Command()
	}

	for _, ent := range message.Entities {
		msg.Entities = append(msg.Entities, e.Entity{
			Type:   ent.Type,
			Offset: ent.Offset,
			Length: ent.Length,
		})
	}

	return msg
}

func takeUserID(user *tgbotapi.User) string {
	return strconv.FormatInt(user.ID, 10)
}

func takeUserName(user *tgbotapi.User) string {
	var sb strings.Builder

	if user.FirstName != "" {
		sb.WriteString(user.FirstName)
	}

	if user.LastName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
		}
		sb.WriteString(user.LastName)
	}

	if user.UserName != "" {
		if sb.Len() > 0 {
			sb.WriteRune(' ')
			sb.WriteRune('(')
			sb.WriteRune('@')
			sb.WriteString(user.UserName)
			sb.WriteRune(')')
		} else {
			sb.WriteRune('@')
			sb.WriteString(user.UserName)
		}
	}

	if sb.Len() == 0 {
		return takeUserID(user)
	}

	return sb.String()
}
