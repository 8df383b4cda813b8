package fallback

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"yt2md/internal/tube"
)

// stubRunner fakes yt-dlp, ffmpeg and whisper by creating the files the
// real binaries would create.
type stubRunner struct {
	t *testing.T

	calls      []string
	audioBytes int64
	failStage  string // name of binary to fail, "" for none.
	transcript string
}

func (s *stubRunner) Run(_ context.Context, name string, args ...string) ([]byte, error) {
	s.calls = append(s.calls, name)

	if name == s.failStage {
		return []byte("boom"), errors.New("stub failure")
	}

	switch name {
	case "yt-dlp":
		out := argAfter(args, "--output")
		require.NotEmpty(s.t, out)
		require.NoError(s.t, os.WriteFile(out, make([]byte, s.audioBytes), 0o644))
	case "ffmpeg":
		// Resampled file is the last argument.
		out := args[len(args)-1]
		require.NoError(s.t, os.WriteFile(out, []byte("wav"), 0o644))
	case "whisper-cli":
		in := argAfter(args, "-f")
		require.NotEmpty(s.t, in)
		csv := "start,end,text\n0,1000,\" " + s.transcript + "\"\n"
		require.NoError(s.t, os.WriteFile(in+".csv", []byte(csv), 0o644))
	default:
		s.t.Fatalf("unexpected binary %q", name)
	}

	return nil, nil
}

func argAfter(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

func testEngine(t *testing.T, run Runner) (*Engine, string) {
	dir := t.TempDir()
	eng := NewWithRunner(Config{
		AudioDir:      dir,
		MinDuration:   30 * time.Second,
		MaxAudioMB:    1,
		ModelDir:      "/models",
		DownloadDelay: time.Nanosecond,
	}, run)
	return eng, dir
}

func testVideo() *tube.Video {
	return &tube.Video{
		ID:       "dQw4w9WgXcQ",
		Title:    "Test",
		Duration: 3 * time.Minute,
	}
}

func TestTranscriptHappyPath(t *testing.T) {
	run := &stubRunner{t: t, audioBytes: 1024, transcript: "hello from whisper"}
	eng, dir := testEngine(t, run)

	text, err := eng.Transcript(context.Background(), testVideo(), "en")
	require.NoError(t, err)
	assert.Equal(t, "hello from whisper", text)
	assert.Equal(t, []string{"yt-dlp", "ffmpeg", "whisper-cli"}, run.calls)
	assertEmptyDir(t, dir)
}

func TestLiveStreamSkippedBeforeDownload(t *testing.T) {
	run := &stubRunner{t: t}
	eng, _ := testEngine(t, run)

	v := testVideo()
	v.Live = true

	_, err := eng.Transcript(context.Background(), v, "en")
	assert.ErrorIs(t, err, ErrLiveStream)
	assert.Empty(t, run.calls)
}

func TestTooShortSkippedBeforeDownload(t *testing.T) {
	run := &stubRunner{t: t}
	eng, _ := testEngine(t, run)

	v := testVideo()
	v.Duration = 10 * time.Second

	_, err := eng.Transcript(context.Background(), v, "en")
	assert.ErrorIs(t, err, ErrTooShort)
	assert.Empty(t, run.calls)
}

func TestAudioSizeLimit(t *testing.T) {
	run := &stubRunner{t: t, audioBytes: 2 * 1024 * 1024} // Limit is 1MB.
	eng, dir := testEngine(t, run)

	_, err := eng.Transcript(context.Background(), testVideo(), "en")
	assert.ErrorIs(t, err, ErrAudioTooLarge)
	assert.Equal(t, []string{"yt-dlp"}, run.calls)
	assertEmptyDir(t, dir)
}

func TestDownloadFailureCleansUp(t *testing.T) {
	run := &stubRunner{t: t, failStage: "yt-dlp"}
	eng, dir := testEngine(t, run)

	_, err := eng.Transcript(context.Background(), testVideo(), "en")
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assertEmptyDir(t, dir)
}

func TestTranscriptionFailureCleansUp(t *testing.T) {
	run := &stubRunner{t: t, audioBytes: 1024, failStage: "whisper-cli"}
	eng, dir := testEngine(t, run)

	_, err := eng.Transcript(context.Background(), testVideo(), "en")
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assertEmptyDir(t, dir)
}

func TestEmptyTranscriptIsAFailure(t *testing.T) {
	run := &stubRunner{t: t, audioBytes: 1024, transcript: ""}
	eng, _ := testEngine(t, run)

	_, err := eng.Transcript(context.Background(), testVideo(), "en")
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
}

func TestCancelledContext(t *testing.T) {
	run := &stubRunner{t: t}
	eng, _ := testEngine(t, run)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := eng.Transcript(ctx, testVideo(), "en")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, run.calls)
}

// blockingRunner hangs at one stage until the stage context expires, and
// behaves like stubRunner everywhere else.
type blockingRunner struct {
	stub    *stubRunner
	blockAt string
}

func (b *blockingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if name == b.blockAt {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return b.stub.Run(ctx, name, args...)
}

func TestStalledDownloadTimesOut(t *testing.T) {
	run := &blockingRunner{
		stub:    &stubRunner{t: t, audioBytes: 1024, transcript: "unused"},
		blockAt: "yt-dlp",
	}
	dir := t.TempDir()
	eng := NewWithRunner(Config{
		AudioDir:        dir,
		MaxAudioMB:      1,
		ModelDir:        "/models",
		DownloadDelay:   time.Nanosecond,
		DownloadTimeout: 20 * time.Millisecond,
	}, run)

	_, err := eng.Transcript(context.Background(), testVideo(), "en")
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assertEmptyDir(t, dir)
}

func TestStalledTranscriptionTimesOut(t *testing.T) {
	run := &blockingRunner{
		stub:    &stubRunner{t: t, audioBytes: 1024, transcript: "unused"},
		blockAt: "whisper-cli",
	}
	dir := t.TempDir()
	eng := NewWithRunner(Config{
		AudioDir:          dir,
		MaxAudioMB:        1,
		ModelDir:          "/models",
		DownloadDelay:     time.Nanosecond,
		TranscribeTimeout: 20 * time.Millisecond,
	}, run)

	_, err := eng.Transcript(context.Background(), testVideo(), "en")
	assert.ErrorIs(t, err, ErrTranscriptionFailed)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assertEmptyDir(t, dir)
}

// cancellingRunner cancels the whole operation at one stage, after earlier
// stages have already written files into the scratch directory.
type cancellingRunner struct {
	stub     *stubRunner
	cancelAt string
	cancel   context.CancelFunc
}

func (c *cancellingRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if name == c.cancelAt {
		c.cancel()
		return nil, context.Canceled
	}
	return c.stub.Run(ctx, name, args...)
}

func TestCancellationAfterDownloadCleansUp(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	run := &cancellingRunner{
		stub:     &stubRunner{t: t, audioBytes: 1024, transcript: "unused"},
		cancelAt: "ffmpeg",
		cancel:   cancel,
	}
	eng, dir := testEngine(t, run)

	_, err := eng.Transcript(ctx, testVideo(), "en")
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTranscriptionFailed)
	assert.Equal(t, []string{"yt-dlp"}, run.stub.calls)
	assertEmptyDir(t, dir)
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	for _, e := range entries {
		t.Errorf("leftover file after cleanup: %s", filepath.Join(dir, e.Name()))
	}
}

func TestParseWhisperCSVJoinsRows(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "out.csv")
	csv := "start,end,text\n" +
		"0,1000,\" first part\"\n" +
		"1000,2000,\" second part\"\n" +
		"2000,3000,\"   \"\n"
	require.NoError(t, os.WriteFile(path, []byte(csv), 0o644))

	text, err := parseWhisperCSV(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%s %s", "first part", "second part"), text)
}
