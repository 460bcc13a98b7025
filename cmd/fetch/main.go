package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jessevdk/go-flags"
	"nuclight.org/video-relay-bot/app/ffmpeg"
	"nuclight.org/video-relay-bot/app/links"
	"nuclight.org/video-relay-bot/app/storage"
	"nuclight.org/video-relay-bot/app/ytdlp"
	"nuclight.org/video-relay-bot/pkg/command"
	e "nuclight.org/video-relay-bot/pkg/entities"
	"nuclight.org/video-relay-bot/pkg/logger"
)

var opts struct {
	OutputDir   string        `long:"output" env:"OUTPUT_DIR" default:"./files" description:"output directory for fetched videos"`
	Workers     int           `long:"workers" env:"FETCH_WORKERS_NUM" default:"3" description:"number of concurrent download workers"`
	YtDlpPath   string        `long:"yt-dlp" env:"YT_DLP_PATH" default:"yt-dlp" description:"yt-dlp binary"`
	FFmpegPath  string        `long:"ffmpeg" env:"FFMPEG_PATH" default:"ffmpeg" description:"ffmpeg binary"`
	FFprobePath string        `long:"ffprobe" env:"FFPROBE_PATH" default:"ffprobe" description:"ffprobe binary"`
	SizeLimitMB int64         `long:"size-limit-mb" env:"SIZE_LIMIT_MB" default:"50" description:"videos above this size are compressed, 0 disables compression"`
	Timeout     time.Duration `long:"timeout" env:"DOWNLOAD_TIMEOUT" default:"10m" description:"timeout of a single download"`
	Hosts       []string      `long:"host" env:"LINK_HOSTS" env-delim:"," description:"accepted video hosts"`
	DBPath      string        `long:"db-path" env:"DB_PATH" description:"sqlite database of the bot, used with --user"`
	UserID      int64         `long:"user" description:"also fetch the failed requests of this telegram user id"`

	Args struct {
		URLs []string `positional-arg-name:"url"`
	} `positional-args:"yes"`
}

var (
	fetched int64
	invalid int64
	failed  int64
)

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	urls := opts.Args.URLs
	if opts.UserID != 0 {
		failedURLs, err := loadFailedRequests(ctx, opts.DBPath, opts.UserID)
		if err != nil {
			log.Error("loading failed requests", "error", err)
			os.Exit(1)
		}
		log.Info("failed requests loaded from database", "count", len(failedURLs), "tg_user_id", opts.UserID)
		urls = append(urls, failedURLs...)
	}

	if len(urls) == 0 {
		log.Info("no urls to fetch")
		os.Exit(0)
	}

	log.Info("starting fetch", "urls", len(urls))

	for _, bin := range []*string{&opts.YtDlpPath, &opts.FFmpegPath, &opts.FFprobePath} {
		resolved, err := command.Resolve(*bin)
		if err != nil {
			log.Error("resolving external tool", "error", err)
			os.Exit(1)
		}
		*bin = resolved
	}

	matcher, err := links.NewMatcher(opts.Hosts)
	if err != nil {
		log.Error("creating link matcher", "error", err)
		os.Exit(1)
	}

	downloader := &ytdlp.Downloader{
		Log:     log,
		Binary:  opts.YtDlpPath,
		Dir:     opts.OutputDir,
		Timeout: opts.Timeout,
	}

	compressor := &ffmpeg.Compressor{
		Log:     log,
		FFmpeg:  opts.FFmpegPath,
		FFprobe: opts.FFprobePath,
		Limit:   opts.SizeLimitMB << 20,
	}

	taskChan := make(chan string, len(urls))
	for _, text := range urls {
		link, ok := matcher.Find(text)
		if !ok {
			log.Warn("skipping unsupported link", "url", text)
			atomic.AddInt64(&invalid, 1)
			continue
		}
		taskChan <- link
	}
	close(taskChan)

	var wg sync.WaitGroup
	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for link := range taskChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				video, err := downloader.Download(ctx, link)
				if err != nil {
					log.Error("downloading video", "error", err, "url", link)
					atomic.AddInt64(&failed, 1)
					continue
				}

				if opts.SizeLimitMB > 0 {
					video, err = compressor.Compress(ctx, video)
					if err != nil {
						log.Error("compressing video", "error", err, "url", link, "path", video.Path)
						atomic.AddInt64(&failed, 1)
						continue
					}
				}

				atomic.AddInt64(&fetched, 1)
				log.Info("video fetched", "url", link, "path", video.Path, "size", humanize.Bytes(uint64(video.Size)))
			}
		}()
	}

	wg.Wait()

	log.Info("done",
		"fetched", fetched,
		"invalid", invalid,
		"failed", failed,
	)
}

// loadFailedRequests returns the distinct links of a user's requests that
// failed while downloading, compressing or uploading.
func loadFailedRequests(ctx context.Context, dbPath string, userID int64) ([]string, error) {
	if dbPath == "" {
		return nil, errors.New("--db-path is required with --user")
	}

	db, err := storage.NewSQLite(ctx, dbPath)
	if err != nil {
		return nil, fmt.Errorf("creating sqlite3 database: %w", err)
	}
	defer func() { _ = db.Close() }()

	requests, err := db.ListRequests(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out []string
	seen := make(map[string]struct{})
	for _, r := range requests {
		if r.Stage == nil {
			continue
		}
		switch e.Stage(*r.Stage) {
		case e.StageDownload, e.StageCompress, e.StageUpload:
		default:
			continue
		}
		if _, exists := seen[r.URL]; exists {
			continue
		}
		seen[r.URL] = struct{}{}
		out = append(out, r.URL)
	}

	return out, nil
}
