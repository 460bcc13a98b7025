package relay

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"nuclight.org/video-relay-bot/app/access"
	"nuclight.org/video-relay-bot/app/responses"
	e "nuclight.org/video-relay-bot/pkg/entities"
	"nuclight.org/video-relay-bot/pkg/logger"
	"nuclight.org/video-relay-bot/pkg/mutex"
)

// RelaySrv handles incoming chat messages. A message carrying a supported
// link from a permitted sender is downloaded, compressed when it does not
// fit the upload limit and sent back to the chat as a video. The downloaded
// file and the "processing" status message are removed on every path.
// Requests of one user are handled one at a time.
type RelaySrv struct {
	// Log is a logger
	Log logger.Logger

	// Links finds a supported link in message text
	Links LinkFinder

	// Gate decides whether the sender may use the bot
	Gate Gate

	// Downloader fetches the video behind a link
	Downloader Downloader

	// Compressor shrinks videos above the upload limit
	Compressor Compressor

	// Messenger talks back to the chat
	Messenger Messenger

	// Users records first contact with a user
	Users UserStore

	// Requests keeps a log of link requests, optional
	Requests RequestStore

	// Responses provides user facing texts
	Responses Responses

	// Reporter receives pipeline failures, optional
	Reporter Reporter

	locks mutex.KeyedMutex
}

const commandStart = "start"

var errUnsupportedLink = errors.New("unsupported link")

// HandleMessage runs the pipeline for msg. Returned errors are already
// reported to the user, they are meant for logging.
//
// In group chats only messages carrying a link are handled, other chatter is
// neither answered nor counted as first contact. A user with a request in
// flight gets a busy reply instead of waiting for a worker.
func (s *RelaySrv) HandleMessage(ctx context.Context, msg e.Message) error {
	log := s.Log.With("tg_chat_id", msg.Chat.ID, "tg_user_id", msg.Sender.ID, "tg_message_id", msg.ID)

	decision := s.Gate.Check(msg.Sender, msg.Chat)

	if msg.IsCommand() {
		if msg.Command == commandStart && decision.Allowed {
			if _, err := s.Users.MarkSeen(ctx, msg.Sender.ID); err != nil {
				log.Error("marking user as seen", "error", err)
			}
			s.reply(ctx, msg, responses.Welcome)
		}
		return nil
	}

	if !msg.HasText() {
		return nil
	}

	if !msg.Chat.Private && !s.Links.HasURL(msg.Text) {
		return nil
	}

	if decision.Allowed {
		s.greet(ctx, msg)
	}

	link, ok := s.Links.Find(msg.Text)
	if !ok {
		log.Debug("no supported link in message")
		if decision.Allowed || msg.Chat.Private {
			s.reply(ctx, msg, responses.InvalidLink)
		}
		if s.Links.HasURL(msg.Text) {
			s.reject(ctx, log, msg, strings.TrimSpace(msg.Text), e.StageValidate, errUnsupportedLink)
		}
		return nil
	}

	log = log.With("url", link)

	if !decision.Allowed {
		log.Info("request denied", "reason", decision.Reason)
		if msg.Chat.Private {
			s.reply(ctx, msg, responses.Denied)
		}
		s.reject(ctx, log, msg, link, e.StageAccess, errors.New(decision.Reason))
		return nil
	}

	key := strconv.FormatInt(msg.Sender.ID, 10)
	if !s.locks.TryLock(key) {
		log.Info("previous request still running")
		s.reply(ctx, msg, responses.Busy)
		return nil
	}
	defer s.locks.Unlock(key)

	requestID := s.saveRequest(ctx, log, msg, link)

	err := s.relay(ctx, msg, link)
	if err == nil {
		log.Info("video sent")
		s.saveOutcome(ctx, log, requestID, e.StageDone, nil)
		return nil
	}

	stage := stageOf(err)
	s.saveOutcome(ctx, log, requestID, stage, err)
	s.report(err, msg, stage)
	s.reply(ctx, msg, responseFor(stage))

	return fmt.Errorf("relaying %s: %w", link, err)
}

// reject records a request that never reached the downloader.
func (s *RelaySrv) reject(ctx context.Context, log logger.Logger, msg e.Message, url string, stage e.Stage, cause error) {
	requestID := s.saveRequest(ctx, log, msg, url)
	s.saveOutcome(ctx, log, requestID, stage, cause)
}

func (s *RelaySrv) relay(ctx context.Context, msg e.Message, link string) error {
	log := s.Log.With("tg_chat_id", msg.Chat.ID, "url", link)

	statusID, err := s.Messenger.SendText(ctx, msg.Chat.ID, msg.ID, s.text(msg, responses.Processing))
	if err != nil {
		log.Warn("sending status message", "error", err)
	} else {
		defer func() {
			if err := s.Messenger.DeleteMessage(ctx, msg.Chat.ID, statusID); err != nil {
				log.Warn("deleting status message", "error", err)
			}
		}()
	}

	video, err := s.Downloader.Download(ctx, link)
	if err != nil {
		return err
	}

	// compression may move the artifact, both paths are removed
	downloaded := video.Path
	defer func() {
		removeArtifact(log, downloaded)
		if video.Path != downloaded {
			removeArtifact(log, video.Path)
		}
	}()

	compressed, err := s.Compressor.Compress(ctx, video)
	if err != nil {
		return err
	}
	video = compressed

	log.Debug("uploading video", "path", video.Path, "size", humanize.Bytes(uint64(video.Size)), "spoiler", msg.HasSpoiler())

	err = s.Messenger.SendVideo(ctx, msg.Chat.ID, msg.ID, video.Path, msg.HasSpoiler())
	if err != nil {
		return e.NewStageError(e.StageUpload, err)
	}

	return nil
}

func (s *RelaySrv) greet(ctx context.Context, msg e.Message) {
	first, err := s.Users.MarkSeen(ctx, msg.Sender.ID)
	if err != nil {
		s.Log.Error("marking user as seen", "tg_user_id", msg.Sender.ID, "error", err)
		return
	}

	if first {
		s.Log.Info("new user", "tg_user_id", msg.Sender.ID, "tg_user_nick", msg.Sender.UserName)
		s.reply(ctx, msg, responses.Welcome)
	}
}

func (s *RelaySrv) reply(ctx context.Context, msg e.Message, key responses.Key) {
	_, err := s.Messenger.SendText(ctx, msg.Chat.ID, msg.ID, s.text(msg, key))
	if err != nil {
		s.Log.Error("sending reply", "tg_chat_id", msg.Chat.ID, "error", err)
	}
}

func (s *RelaySrv) text(msg e.Message, key responses.Key) string {
	return s.Responses.Get(msg.Sender.LanguageCode, key)
}

func (s *RelaySrv) saveRequest(ctx context.Context, log logger.Logger, msg e.Message, link string) int64 {
	if s.Requests == nil {
		return 0
	}

	id, err := s.Requests.SaveRequest(ctx, msg, link)
	if err != nil {
		log.Error("saving request", "error", err)
		return 0
	}

	return id
}

func (s *RelaySrv) saveOutcome(ctx context.Context, log logger.Logger, requestID int64, stage e.Stage, cause error) {
	if s.Requests == nil || requestID == 0 {
		return
	}

	var errText string
	if cause != nil {
		errText = cause.Error()
	}

	if err := s.Requests.SaveOutcome(ctx, requestID, stage, errText); err != nil {
		log.Error("saving request outcome", "error", err)
	}
}

func (s *RelaySrv) report(err error, msg e.Message, stage e.Stage) {
	if s.Reporter == nil {
		return
	}

	s.Reporter.Report(err, map[string]string{
		"stage":      string(stage),
		"tg_chat_id": strconv.FormatInt(msg.Chat.ID, 10),
		"tg_user_id": strconv.FormatInt(msg.Sender.ID, 10),
	})
}

func removeArtifact(log logger.Logger, path string) {
	err := os.Remove(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Error("removing artifact", "path", path, "error", err)
	}
}

func stageOf(err error) e.Stage {
	var se *e.StageError
	if errors.As(err, &se) {
		return se.Stage
	}
	return e.StageDownload
}

func responseFor(stage e.Stage) responses.Key {
	switch stage {
	case e.StageCompress:
		return responses.CompressError
	case e.StageUpload:
		return responses.SendError
	default:
		return responses.DownloadError
	}
}

type LinkFinder interface {
	Find(text string) (string, bool)
	HasURL(text string) bool
}

type Gate interface {
	Check(user e.User, chat e.Chat) access.Decision
}

type Downloader interface {
	Download(ctx context.Context, url string) (e.Video, error)
}

type Compressor interface {
	Compress(ctx context.Context, video e.Video) (e.Video, error)
}

type Messenger interface {
	SendText(ctx context.Context, chatID int64, replyTo int, text string) (int, error)
	SendVideo(ctx context.Context, chatID int64, replyTo int, path string, spoiler bool) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
}

type UserStore interface {
	MarkSeen(ctx context.Context, userID int64) (bool, error)
}

type RequestStore interface {
	SaveRequest(ctx context.Context, msg e.Message, url string) (int64, error)
	SaveOutcome(ctx context.Context, requestID int64, stage e.Stage, errText string) error
}

type Responses interface {
	Get(lang string, key responses.Key) string
}

type Reporter interface {
	Report(err error, tags map[string]string)
}
