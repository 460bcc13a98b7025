package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
	"nuclight.org/video-relay-bot/app/access"
	"nuclight.org/video-relay-bot/app/ffmpeg"
	"nuclight.org/video-relay-bot/app/health"
	"nuclight.org/video-relay-bot/app/links"
	"nuclight.org/video-relay-bot/app/relay"
	"nuclight.org/video-relay-bot/app/responses"
	"nuclight.org/video-relay-bot/app/storage"
	"nuclight.org/video-relay-bot/app/telegram"
	"nuclight.org/video-relay-bot/app/ytdlp"
	"nuclight.org/video-relay-bot/pkg/command"
	"nuclight.org/video-relay-bot/pkg/logger"
	"nuclight.org/video-relay-bot/pkg/reporter"
)

var opts struct {
	TelegramAPIToken    string        `long:"telegram-api-token" env:"TELEGRAM_API_TOKEN" required:"true" description:"telegram api token"`
	TelegramWorkersNum  int           `long:"telegram-workers-num" env:"TELEGRAM_WORKERS_NUM" default:"5" description:"number of workers for telegram bot"`
	TelegramHTTPTimeout time.Duration `long:"telegram-http-timeout" env:"TELEGRAM_HTTP_TIMEOUT" default:"5m" description:"timeout of a single bot api call, uploads included"`
	DBPath              string        `long:"db-path" env:"DB_PATH" default:"./db/relay.sqlite" description:"path to the sqlite database file"`

	Hosts      []string `long:"host" env:"LINK_HOSTS" env-delim:"," description:"accepted video hosts (repeatable), defaults to instagram, facebook and youtube"`
	AllowUsers []string `long:"allow-user" env:"ALLOW_USERS" env-delim:"," description:"usernames allowed to use the bot"`
	AllowChats []int64  `long:"allow-chat" env:"ALLOW_CHATS" env-delim:"," description:"chat ids allowed to use the bot"`
	DenyUsers  []string `long:"deny-user" env:"DENY_USERS" env-delim:"," description:"usernames denied from using the bot"`
	DenyChats  []int64  `long:"deny-chat" env:"DENY_CHATS" env-delim:"," description:"chat ids denied from using the bot"`

	DownloadsDir    string        `long:"downloads-dir" env:"DOWNLOADS_DIR" default:"./downloads" description:"directory for temporary video files"`
	YtDlpPath       string        `long:"yt-dlp" env:"YT_DLP_PATH" default:"yt-dlp" description:"yt-dlp binary"`
	DownloadTimeout time.Duration `long:"download-timeout" env:"DOWNLOAD_TIMEOUT" default:"10m" description:"timeout of a single download"`

	FFmpegPath      string        `long:"ffmpeg" env:"FFMPEG_PATH" default:"ffmpeg" description:"ffmpeg binary"`
	FFprobePath     string        `long:"ffprobe" env:"FFPROBE_PATH" default:"ffprobe" description:"ffprobe binary"`
	SizeLimitMB     int64         `long:"size-limit-mb" env:"SIZE_LIMIT_MB" default:"50" description:"videos above this size are compressed"`
	CompressTimeout time.Duration `long:"compress-timeout" env:"COMPRESS_TIMEOUT" default:"15m" description:"timeout of a single compression"`

	ResponsesDir string `long:"responses-dir" env:"RESPONSES_DIR" description:"directory with <lang>.json response files"`
	Language     string `long:"language" env:"DEFAULT_LANGUAGE" default:"en" description:"fallback language of responses"`

	HTTPAddr string `long:"http-addr" env:"HTTP_ADDR" description:"address of the health endpoint, empty disables it"`
	Port     string `long:"port" env:"PORT" description:"port of the health endpoint, used when http-addr is empty"`

	LogLevel string `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
	LogFile  string `long:"log-file" env:"LOG_FILE" description:"also write logs to this file"`

	SentryDSN string `long:"sentry-dsn" env:"SENTRY_DSN" description:"sentry dsn, empty disables error reporting"`
}

var Revision = "dev"

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		_, _ = os.Stderr.WriteString("loading .env: " + err.Error() + "\n")
		os.Exit(1)
	}

	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	logOpts := logger.Options{Level: opts.LogLevel}
	if opts.LogFile != "" {
		f, err := os.OpenFile(opts.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			_, _ = os.Stderr.WriteString("opening log file: " + err.Error() + "\n")
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		logOpts.File = f
	}

	log, err := logger.NewLoggerWithOptions(logOpts)
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}
	log.Info("starting bot", "revision", Revision)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rep, err := reporter.NewSentry(reporter.Options{
		DSN:        opts.SentryDSN,
		Release:    Revision,
		BeforeSend: reporter.Redact(opts.TelegramAPIToken),
	})
	if err != nil {
		log.Error("creating error reporter", "error", err)
		os.Exit(1)
	}
	defer rep.Flush(2 * time.Second)

	for _, bin := range []*string{&opts.YtDlpPath, &opts.FFmpegPath, &opts.FFprobePath} {
		resolved, err := command.Resolve(*bin)
		if err != nil {
			log.Error("resolving external tool", "error", err)
			os.Exit(1)
		}
		*bin = resolved
	}
	log.Info("external tools found", "yt_dlp", opts.YtDlpPath, "ffmpeg", opts.FFmpegPath, "ffprobe", opts.FFprobePath)

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		log.Error("creating sqlite3 database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	matcher, err := links.NewMatcher(opts.Hosts)
	if err != nil {
		log.Error("creating link matcher", "error", err)
		os.Exit(1)
	}

	catalog, err := responses.Load(opts.ResponsesDir, opts.Language)
	if err != nil {
		log.Error("loading responses", "error", err)
		os.Exit(1)
	}
	log.Info("responses loaded", "languages", catalog.Languages(), "fallback", opts.Language)

	bot := &telegram.Client{
		Log:         log,
		APIToken:    opts.TelegramAPIToken,
		WorkersNum:  opts.TelegramWorkersNum,
		HTTPTimeout: opts.TelegramHTTPTimeout,
		Reporter:    rep,
	}

	bot.Handler = &relay.RelaySrv{
		Log:   log,
		Links: matcher,
		Gate: access.NewGate(access.Lists{
			AllowUsers: opts.AllowUsers,
			AllowChats: opts.AllowChats,
			DenyUsers:  opts.DenyUsers,
			DenyChats:  opts.DenyChats,
		}),
		Downloader: &ytdlp.Downloader{
			Log:     log,
			Binary:  opts.YtDlpPath,
			Dir:     opts.DownloadsDir,
			Timeout: opts.DownloadTimeout,
		},
		Compressor: &ffmpeg.Compressor{
			Log:     log,
			FFmpeg:  opts.FFmpegPath,
			FFprobe: opts.FFprobePath,
			Limit:   opts.SizeLimitMB << 20,
			Timeout: opts.CompressTimeout,
		},
		Messenger: bot,
		Users:     db,
		Requests:  db,
		Responses: catalog,
		Reporter:  rep,
	}

	g, gCtx := errgroup.WithContext(ctx)

	err = bot.Start(gCtx)
	if err != nil {
		log.Error("starting bot", "error", err)
		os.Exit(1)
	}

	if addr := healthAddr(); addr != "" {
		srv := &health.Server{Log: log, Addr: addr}
		g.Go(func() error {
			return srv.Run(gCtx)
		})
	}

	g.Go(func() error {
		<-gCtx.Done()
		log.Info("stopping bot")
		bot.Wait()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("bot stopped with error", "error", err)
		rep.Flush(2 * time.Second)
		os.Exit(1)
	}
}

func healthAddr() string {
	if opts.HTTPAddr != "" {
		return opts.HTTPAddr
	}
	if opts.Port != "" {
		return ":" + opts.Port
	}
	return ""
}
