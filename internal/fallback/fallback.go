// Package fallback produces a transcript from a video's audio track when the
// captioning service has nothing for us: yt-dlp downloads the audio, ffmpeg
// resamples it for whisper.cpp, and whisper.cpp transcribes it. All work for
// one video happens inside a scoped temporary directory that is removed on
// every exit path, including cancellation.
package fallback

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"yt2md/internal/tube"
)

var (
	// Deliberate skips, never recorded in the index.
	ErrLiveStream = errors.New("video is live or scheduled")
	ErrTooShort   = errors.New("video below minimum duration")

	// Execution failures, recorded distinctly so a human can tell download
	// problems from transcription problems.
	ErrAudioTooLarge       = errors.New("downloaded audio exceeds size limit")
	ErrDownloadFailed      = errors.New("audio download failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
)

const (
	DefaultMinDuration       = 30 * time.Second
	DefaultMaxAudioMB        = 100
	DefaultDownloadDelay     = 10 * time.Second
	DefaultDownloadTimeout   = 10 * time.Minute
	DefaultTranscribeTimeout = 30 * time.Minute
)

type Config struct {
	AudioDir      string        // Parent for per-video scratch directories.
	MinDuration   time.Duration // Below this the download+transcribe cost isn't worth it.
	MaxAudioMB    int64
	Model         string // whisper.cpp model tier: tiny, base, small, medium, large.
	ModelDir      string
	Device        string // "cpu" or "cuda".
	Threads       int
	Processors    int
	DownloadDelay time.Duration

	// Per-stage deadlines so a hung binary cannot wedge a batch worker.
	DownloadTimeout   time.Duration
	TranscribeTimeout time.Duration // Covers both the resample and whisper.

	BinYtDlp   string
	BinFfmpeg  string
	BinWhisper string
}

// Runner executes an external command and returns its combined output.
// A seam so tests don't need the real binaries on PATH.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	out := &bytes.Buffer{}
	// yt-dlp and whisper.cpp put error detail on stdout, so capture both.
	cmd.Stdout = out
	cmd.Stderr = out
	err := cmd.Run()
	return out.Bytes(), err
}

type Engine struct {
	cfg     Config
	run     Runner
	limiter *rate.Limiter
}

func New(cfg Config) *Engine {
	return NewWithRunner(cfg, execRunner{})
}

func NewWithRunner(cfg Config, run Runner) *Engine {
	if cfg.MinDuration <= 0 {
		cfg.MinDuration = DefaultMinDuration
	}
	if cfg.MaxAudioMB <= 0 {
		cfg.MaxAudioMB = DefaultMaxAudioMB
	}
	if cfg.Model == "" {
		cfg.Model = "base"
	}
	if cfg.Device == "" {
		cfg.Device = "cpu"
	}
	if cfg.Threads <= 0 {
		cfg.Threads = 4
	}
	if cfg.Processors <= 0 {
		cfg.Processors = 1
	}
	if cfg.DownloadDelay <= 0 {
		cfg.DownloadDelay = DefaultDownloadDelay
	}
	if cfg.DownloadTimeout <= 0 {
		cfg.DownloadTimeout = DefaultDownloadTimeout
	}
	if cfg.TranscribeTimeout <= 0 {
		cfg.TranscribeTimeout = DefaultTranscribeTimeout
	}
	if cfg.BinYtDlp == "" {
		cfg.BinYtDlp = "yt-dlp"
	}
	if cfg.BinFfmpeg == "" {
		cfg.BinFfmpeg = "ffmpeg"
	}
	if cfg.BinWhisper == "" {
		cfg.BinWhisper = "whisper-cli"
	}

	return &Engine{
		cfg:     cfg,
		run:     run,
		limiter: rate.NewLimiter(rate.Every(cfg.DownloadDelay), 1),
	}
}

// Transcript downloads the video's audio and transcribes it locally.
// Preconditions are checked before any download happens; precondition
// failures (ErrLiveStream, ErrTooShort) are skips, not errors to index.
func (e *Engine) Transcript(ctx context.Context, video *tube.Video, lang string) (string, error) {
	if video.Live {
		return "", fmt.Errorf("video %q: %w", video.ID, ErrLiveStream)
	}
	if video.Duration < e.cfg.MinDuration {
		return "", fmt.Errorf(
			"video %q is %s, minimum is %s: %w",
			video.ID, video.Duration, e.cfg.MinDuration, ErrTooShort,
		)
	}

	// Pace downloads so we don't trade one kind of blocking for another.
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}

	if e.cfg.AudioDir != "" {
		if err := os.MkdirAll(e.cfg.AudioDir, 0o755); err != nil {
			return "", fmt.Errorf("creating audio dir: %w", err)
		}
	}
	dir, err := os.MkdirTemp(e.cfg.AudioDir, video.ID+"-*")
	if err != nil {
		return "", fmt.Errorf("creating scratch dir: %w", err)
	}
	defer func() {
		log.Printf("[INFO]: deleting %q (cleanup)", dir)
		if err := os.RemoveAll(dir); err != nil {
			log.Printf("[WARN]: could not delete %q: %v", dir, err)
		}
	}()

	dctx, cancelDownload := context.WithTimeout(ctx, e.cfg.DownloadTimeout)
	audioPath, err := e.download(dctx, dir, video)
	cancelDownload()
	if err != nil {
		return "", err
	}

	tctx, cancelTranscribe := context.WithTimeout(ctx, e.cfg.TranscribeTimeout)
	defer cancelTranscribe()
	text, err := e.transcribe(tctx, audioPath, lang)
	if err != nil {
		return "", err
	}

	return text, nil
}

func (e *Engine) download(ctx context.Context, dir string, video *tube.Video) (string, error) {
	audioPath := filepath.Join(dir, video.ID+".wav")

	log.Printf("[INFO]: downloading audio for %q", video.ID)
	out, err := e.run.Run(ctx, e.cfg.BinYtDlp,
		"-f", "bestaudio",
		"--ignore-config",
		"--no-progress",
		"--output", audioPath,
		"--extract-audio",
		"--audio-format", "wav",
		video.URL(),
	)
	if err != nil {
		return "", execErr(ctx, "yt-dlp", err, out, ErrDownloadFailed)
	}

	info, err := os.Stat(audioPath)
	if err != nil {
		return "", fmt.Errorf("downloaded audio missing: %v: %w", err, ErrDownloadFailed)
	}

	maxBytes := e.cfg.MaxAudioMB * 1024 * 1024
	if info.Size() > maxBytes {
		return "", fmt.Errorf(
			"audio is %.1fMB, limit %dMB: %w",
			float64(info.Size())/(1024*1024), e.cfg.MaxAudioMB, ErrAudioTooLarge,
		)
	}

	return audioPath, nil
}

func (e *Engine) transcribe(ctx context.Context, audioPath, lang string) (string, error) {
	resampled := strings.TrimSuffix(audioPath, ".wav") + ".16k.wav"

	log.Printf("[INFO]: resampling %q to 16 KHz", audioPath)
	out, err := e.run.Run(ctx, e.cfg.BinFfmpeg,
		"-i", audioPath,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		"--", resampled,
	)
	if err != nil {
		return "", execErr(ctx, "ffmpeg", err, out, ErrTranscriptionFailed)
	}

	args := []string{
		"-m", e.modelPath(),
		"-f", resampled,
		"-ocsv",
		"-t", fmt.Sprint(e.cfg.Threads),
		"-p", fmt.Sprint(e.cfg.Processors),
	}
	if lang != "" {
		args = append(args, "-l", lang)
	}
	if e.cfg.Device == "cpu" {
		args = append(args, "-ng")
	}

	log.Printf("[INFO]: running whisper (model %q, device %q)", e.cfg.Model, e.cfg.Device)
	out, err = e.run.Run(ctx, e.cfg.BinWhisper, args...)
	if err != nil {
		return "", execErr(ctx, "whisper", err, out, ErrTranscriptionFailed)
	}

	text, err := parseWhisperCSV(resampled + ".csv")
	if err != nil {
		return "", fmt.Errorf("%v: %w", err, ErrTranscriptionFailed)
	}
	if text == "" {
		return "", fmt.Errorf("whisper returned an empty transcript: %w", ErrTranscriptionFailed)
	}

	return text, nil
}

func (e *Engine) modelPath() string {
	return filepath.Join(e.cfg.ModelDir, "ggml-"+e.cfg.Model+".bin")
}

func parseWhisperCSV(path string) (string, error) {
	fh, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening whisper output: %w", err)
	}
	defer fh.Close()

	r := csv.NewReader(fh)
	r.ReuseRecord = true
	r.FieldsPerRecord = 3
	r.LazyQuotes = true

	// Header row.
	if _, err := r.Read(); err != nil {
		return "", fmt.Errorf("reading whisper csv header: %w", err)
	}

	parts := []string{}
	for {
		row, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return "", fmt.Errorf("reading whisper csv row: %w", err)
		}

		if txt := strings.TrimSpace(row[2]); txt != "" {
			parts = append(parts, txt)
		}
	}

	return strings.Join(parts, " "), nil
}

// execErr classifies a failed command. A stage deadline counts as a failure
// of that stage; cancellation from above passes through untouched.
func execErr(ctx context.Context, id string, err error, out []byte, tag error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return fmt.Errorf("%s timed out: %w", id, tag)
		}
		return ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf(
			"%s: exit code %d, output %q: %w",
			id, exitErr.ExitCode(), strings.TrimSpace(string(out)), tag,
		)
	}

	return fmt.Errorf("%s: %v: %w", id, err, tag)
}
