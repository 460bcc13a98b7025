package ytdlp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	e "nuclight.org/video-relay-bot/pkg/entities"
)

// fakeRunner emulates yt-dlp by writing files next to the --output template.
type fakeRunner struct {
	files map[string]string // extension -> content
	err   error

	name string
	args []string
}

func (f *fakeRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	f.name = name
	f.args = args

	tmpl := argAfter(args, "--output")
	for ext, content := range f.files {
		path := strings.Replace(tmpl, "%(ext)s", ext, 1)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return nil, err
		}
	}

	return nil, f.err
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func newDownloader(t *testing.T, runner *fakeRunner) *Downloader {
	t.Helper()
	return &Downloader{
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Dir:    filepath.Join(t.TempDir(), "downloads"),
		Runner: runner,
		NewID:  func() string { return "artifact" },
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	names := make([]string, 0, len(entries))
	for _, ent := range entries {
		names = append(names, ent.Name())
	}
	return names
}

func TestDownloader_Download(t *testing.T) {
	runner := &fakeRunner{files: map[string]string{"mp4": "video-bytes"}}
	d := newDownloader(t, runner)

	video, err := d.Download(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(d.Dir, "artifact.mp4"), video.Path)
	assert.Equal(t, int64(len("video-bytes")), video.Size)

	assert.Equal(t, DefaultBinary, runner.name)
	assert.Equal(t, DefaultFormat, argAfter(runner.args, "--format"))
	assert.Equal(t, "mp4", argAfter(runner.args, "--merge-output-format"))
	assert.Contains(t, runner.args, "--no-playlist")
	assert.Contains(t, DefaultUserAgents, argAfter(runner.args, "--user-agent"))
	assert.Equal(t, "https://youtu.be/abc", runner.args[len(runner.args)-1])
}

func TestDownloader_PrefersMergedFile(t *testing.T) {
	runner := &fakeRunner{files: map[string]string{
		"webm":      "single",
		"mp4":       "merged",
		"f137.mp4":  "fragment",
		"mp4.part":  "partial",
		"info.json": "{}",
	}}
	d := newDownloader(t, runner)

	video, err := d.Download(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(d.Dir, "artifact.mp4"), video.Path)
	assert.Equal(t, []string{"artifact.mp4"}, listDir(t, d.Dir))
}

func TestDownloader_NonMP4(t *testing.T) {
	runner := &fakeRunner{files: map[string]string{"webm": "single"}}
	d := newDownloader(t, runner)

	video, err := d.Download(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(d.Dir, "artifact.webm"), video.Path)
}

func TestDownloader_ToolFailureRemovesPartials(t *testing.T) {
	runner := &fakeRunner{
		files: map[string]string{"mp4.part": "partial", "f137.mp4": "fragment"},
		err:   errors.New("yt-dlp: exit status 1: ERROR: Unsupported URL"),
	}
	d := newDownloader(t, runner)

	_, err := d.Download(context.Background(), "https://youtu.be/abc")
	require.Error(t, err)

	var se *e.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, e.StageDownload, se.Stage)
	assert.Contains(t, err.Error(), "Unsupported URL")

	assert.Empty(t, listDir(t, d.Dir))
}

func TestDownloader_NoFileProduced(t *testing.T) {
	runner := &fakeRunner{files: map[string]string{"mp4.part": "partial"}}
	d := newDownloader(t, runner)

	_, err := d.Download(context.Background(), "https://youtu.be/abc")
	require.Error(t, err)

	var se *e.StageError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, e.StageDownload, se.Stage)
	assert.Empty(t, listDir(t, d.Dir))
}

func TestDownloader_CustomUserAgent(t *testing.T) {
	runner := &fakeRunner{files: map[string]string{"mp4": "x"}}
	d := newDownloader(t, runner)
	d.Binary = "/opt/bin/yt-dlp"
	d.UserAgents = []string{"relay-test/1.0"}

	_, err := d.Download(context.Background(), "https://youtu.be/abc")
	require.NoError(t, err)

	assert.Equal(t, "/opt/bin/yt-dlp", runner.name)
	assert.Equal(t, "relay-test/1.0", argAfter(runner.args, "--user-agent"))
}
