package ytdlp

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"nuclight.org/video-relay-bot/pkg/command"
	e "nuclight.org/video-relay-bot/pkg/entities"
	"nuclight.org/video-relay-bot/pkg/logger"
)

const (
	DefaultBinary  = "yt-dlp"
	DefaultFormat  = "bestvideo+bestaudio/best"
	DefaultTimeout = 10 * time.Minute
)

var DefaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64)",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7)",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 14_0 like Mac OS X)",
}

// Downloader fetches a single video into Dir using yt-dlp. Each download
// gets a fresh uuid file name, so concurrent downloads never collide.
type Downloader struct {
	Log        logger.Logger
	Binary     string
	Dir        string
	Timeout    time.Duration
	UserAgents []string
	Runner     command.Runner

	// NewID generates artifact names, uuid.NewString when nil
	NewID func() string
}

func (d *Downloader) Download(ctx context.Context, url string) (e.Video, error) {
	if err := os.MkdirAll(d.Dir, 0o755); err != nil {
		return e.Video{}, e.NewStageError(e.StageDownload, fmt.Errorf("creating downloads dir: %w", err))
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	id := d.newID()
	args := d.args(id, url)

	log := d.Log.With("url", url, "artifact_id", id)
	log.Debug("running yt-dlp", "args", args)

	started := time.Now()
	_, err := d.runner().Run(ctx, d.binary(), args...)
	if err != nil {
		d.removeArtifacts(id, "")
		return e.Video{}, e.NewStageError(e.StageDownload, fmt.Errorf("running yt-dlp: %w", err))
	}

	path, err := d.findArtifact(id)
	if err != nil {
		d.removeArtifacts(id, "")
		return e.Video{}, e.NewStageError(e.StageDownload, err)
	}
	d.removeArtifacts(id, path)

	stat, err := os.Stat(path)
	if err != nil {
		_ = os.Remove(path)
		return e.Video{}, e.NewStageError(e.StageDownload, fmt.Errorf("stat artifact: %w", err))
	}

	log.Info("video downloaded", "path", path, "bytes", stat.Size(), "took", time.Since(started).Round(time.Millisecond))

	return e.Video{Path: path, Size: stat.Size()}, nil
}

func (d *Downloader) args(id, url string) []string {
	return []string{
		"--quiet",
		"--no-warnings",
		"--no-progress",
		"--no-playlist",
		"--format", DefaultFormat,
		"--merge-output-format", "mp4",
		"--user-agent", d.userAgent(),
		"--output", filepath.Join(d.Dir, id+".%(ext)s"),
		"--",
		url,
	}
}

// findArtifact picks the merged file among <id>.* leftovers. yt-dlp keeps
// per-format fragments named <id>.f<code>.<ext> only when merging fails.
func (d *Downloader) findArtifact(id string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(d.Dir, id+".*"))
	if err != nil {
		return "", fmt.Errorf("listing artifacts: %w", err)
	}

	var found string
	for _, m := range matches {
		rest := strings.TrimPrefix(filepath.Base(m), id+".")
		if strings.Contains(rest, ".") || isPartial(rest) {
			continue
		}
		if rest == "mp4" {
			return m, nil
		}
		if found == "" {
			found = m
		}
	}

	if found == "" {
		return "", fmt.Errorf("yt-dlp finished without producing a file")
	}

	return found, nil
}

func (d *Downloader) removeArtifacts(id, keep string) {
	matches, _ := filepath.Glob(filepath.Join(d.Dir, id+".*"))
	for _, m := range matches {
		if m == keep {
			continue
		}
		if err := os.Remove(m); err != nil && !os.IsNotExist(err) {
			d.Log.Warn("removing partial download", "path", m, "error", err)
		}
	}
}

func isPartial(ext string) bool {
	switch ext {
	case "part", "ytdl", "temp":
		return true
	}
	return false
}

func (d *Downloader) userAgent() string {
	agents := d.UserAgents
	if len(agents) == 0 {
		agents = DefaultUserAgents
	}
	return agents[rand.IntN(len(agents))]
}

func (d *Downloader) binary() string {
	if d.Binary == "" {
		return DefaultBinary
	}
	return d.Binary
}

func (d *Downloader) runner() command.Runner {
	if d.Runner == nil {
		return command.ExecRunner{}
	}
	return d.Runner
}

func (d *Downloader) newID() string {
	if d.NewID == nil {
		return uuid.NewString()
	}
	return d.NewID()
}
