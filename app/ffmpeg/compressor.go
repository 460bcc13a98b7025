package ffmpeg

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"nuclight.org/video-relay-bot/pkg/command"
	e "nuclight.org/video-relay-bot/pkg/entities"
	"nuclight.org/video-relay-bot/pkg/logger"
)

const (
	DefaultFFmpeg  = "ffmpeg"
	DefaultFFprobe = "ffprobe"

	// DefaultLimit is the Telegram Bot API upload limit
	DefaultLimit int64 = 50 << 20

	DefaultAudioBitrate = 128_000
	DefaultTimeout      = 15 * time.Minute

	minVideoBitrate = 100_000
	overhead        = 0.95
)

// Compressor re-encodes videos larger than Limit so they fit the upload limit.
type Compressor struct {
	Log          logger.Logger
	FFmpeg       string
	FFprobe      string
	Limit        int64
	AudioBitrate int
	Timeout      time.Duration
	Runner       command.Runner
}

// Compress returns video untouched when it already fits. Otherwise the file
// is transcoded to <stem>.mp4 and the original is removed; the returned
// Video points at the new file. On failure the original file is left in place.
func (c *Compressor) Compress(ctx context.Context, video e.Video) (e.Video, error) {
	limit := c.limit()
	if video.Size <= limit {
		return video, nil
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log := c.Log.With("path", video.Path)
	log.Info("video exceeds limit, compressing",
		"size", humanize.Bytes(uint64(video.Size)),
		"limit", humanize.Bytes(uint64(limit)),
	)

	duration, err := c.probeDuration(ctx, video.Path)
	if err != nil {
		log.Warn("probing duration, using encoder defaults", "error", err)
	}

	stem := strings.TrimSuffix(video.Path, filepath.Ext(video.Path))
	tmp := stem + ".compressing.mp4"
	final := stem + ".mp4"

	started := time.Now()
	_, err = c.runner().Run(ctx, c.ffmpeg(), c.args(video.Path, tmp, duration)...)
	if err != nil {
		_ = os.Remove(tmp)
		return video, e.NewStageError(e.StageCompress, fmt.Errorf("running ffmpeg: %w", err))
	}

	stat, err := os.Stat(tmp)
	if err != nil {
		return video, e.NewStageError(e.StageCompress, fmt.Errorf("stat compressed file: %w", err))
	}

	if stat.Size() > limit {
		_ = os.Remove(tmp)
		return video, e.NewStageError(e.StageCompress, fmt.Errorf(
			"compressed file is %s, still above %s",
			humanize.Bytes(uint64(stat.Size())), humanize.Bytes(uint64(limit)),
		))
	}

	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return video, e.NewStageError(e.StageCompress, fmt.Errorf("replacing original: %w", err))
	}

	if final != video.Path {
		if err := os.Remove(video.Path); err != nil && !os.IsNotExist(err) {
			log.Warn("removing original after compression", "error", err)
		}
	}

	log.Info("video compressed",
		"from", humanize.Bytes(uint64(video.Size)),
		"to", humanize.Bytes(uint64(stat.Size())),
		"took", time.Since(started).Round(time.Millisecond),
	)

	return e.Video{Path: final, Size: stat.Size()}, nil
}

func (c *Compressor) args(in, out string, duration float64) []string {
	args := []string{"-nostdin", "-y", "-loglevel", "error", "-i", in, "-c:v", "libx264", "-preset", "veryfast"}

	if rate := c.VideoBitrate(duration); rate > 0 {
		r := strconv.Itoa(rate)
		args = append(args, "-b:v", r, "-maxrate", r, "-bufsize", strconv.Itoa(rate*2))
	} else {
		args = append(args, "-crf", "28")
	}

	return append(args,
		"-c:a", "aac",
		"-b:a", strconv.Itoa(c.audioBitrate()),
		"-movflags", "+faststart",
		out,
	)
}

// VideoBitrate returns the video bitrate in bits per second that keeps a clip
// of the given duration under the limit, or 0 when duration is unknown.
func (c *Compressor) VideoBitrate(duration float64) int {
	if duration <= 0 {
		return 0
	}

	total := float64(c.limit()) * 8 * overhead / duration
	rate := int(total) - c.audioBitrate()
	if rate < minVideoBitrate {
		return minVideoBitrate
	}

	return rate
}

func (c *Compressor) probeDuration(ctx context.Context, path string) (float64, error) {
	out, err := c.runner().Run(ctx, c.ffprobe(),
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		path,
	)
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	var parsed struct {
		Format struct {
			Duration string `json:"duration"`
		} `json:"format"`
	}
	if err := json.Unmarshal(out, &parsed); err != nil {
		return 0, fmt.Errorf("parsing ffprobe output: %w", err)
	}

	dur, err := strconv.ParseFloat(parsed.Format.Duration, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing duration %q: %w", parsed.Format.Duration, err)
	}

	return dur, nil
}

func (c *Compressor) limit() int64 {
	if c.Limit <= 0 {
		return DefaultLimit
	}
	return c.Limit
}

func (c *Compressor) audioBitrate() int {
	if c.AudioBitrate <= 0 {
		return DefaultAudioBitrate
	}
	return c.AudioBitrate
}

func (c *Compressor) ffmpeg() string {
	if c.FFmpeg == "" {
		return DefaultFFmpeg
	}
	return c.FFmpeg
}

func (c *Compressor) ffprobe() string {
	if c.FFprobe == "" {
		return DefaultFFprobe
	}
	return c.FFprobe
}

func (c *Compressor) runner() command.Runner {
	if c.Runner == nil {
		return command.ExecRunner{}
	}
	return c.Runner
}
