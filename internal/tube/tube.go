// Package tube is a thin HTTP client over the YouTube surfaces we need:
// the watch page (caption tracks), the timedtext endpoint (caption content)
// and the Data API (video metadata, channel uploads).
package tube

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	EndpointChannels      = "https://www.googleapis.com/youtube/v3/channels"
	EndpointPlaylistItems = "https://www.googleapis.com/youtube/v3/playlistItems"
	EndpointVideos        = "https://www.googleapis.com/youtube/v3/videos"

	DefaultTimeout = 15 * time.Second
)

// The caller inspects these to decide between audio fallback, recording a
// terminal status, or tripping the batch-wide failure tracker.
var (
	ErrNoTranscript        = errors.New("no transcript for requested language")
	ErrTranscriptsDisabled = errors.New("transcripts disabled")
	ErrUnavailable         = errors.New("video unavailable")
	ErrIPBlocked           = errors.New("blocked by captcha, likely IP ban")
	ErrNotOk               = errors.New("unexpected non 200 status code")
	ErrNotFound            = errors.New("not found")
	ErrQuotaExceeded       = errors.New("quota exceeded")
)

type Client struct {
	Key        string // Data API key, only needed for metadata/discovery.
	HTTPClient *http.Client
}

func NewClient(key string) *Client {
	return &Client{
		Key:        key,
		HTTPClient: &http.Client{Timeout: DefaultTimeout},
	}
}

// Swapped out in tests.
var watchBase = "https://www.youtube.com"

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: DefaultTimeout}
}

func (c *Client) get(ctx context.Context, url string) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}

	res, err := c.http().Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return res.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}

	return res.StatusCode, body, nil
}

type resCaptionsList struct {
	PlayerCaptionsTracklistRenderer struct {
		CaptionTracks []Track
	}
}

type Track struct {
	BaseUrl      string
	LanguageCode string
	Kind         string // "asr" for auto generated.
}

type timedText struct {
	Entries []struct {
		Text  string  `xml:",chardata"`
		Start float64 `xml:"start,attr"`
		Dur   float64 `xml:"dur,attr"`
	} `xml:"text"`
}

// Transcript fetches the captioned transcript of the video in the language
// hinted at by lang (falling back to any track when none match), returning
// the caption texts joined into one string.
//
// Failures are classified into exactly one of ErrIPBlocked, ErrUnavailable,
// ErrTranscriptsDisabled or ErrNoTranscript; anything else is unexpected.
// No retries happen here, that is the batch loop's call.
func (c *Client) Transcript(ctx context.Context, videoID, lang string) (string, error) {
	code, content, err := c.get(ctx, watchBase+"/watch?v="+url.QueryEscape(videoID))
	if err != nil {
		return "", fmt.Errorf("requesting watch page: %w", err)
	}
	sContent := string(content)

	if strings.Contains(sContent, `class="g-recaptcha"`) {
		return "", fmt.Errorf("video %q got captcha: %w", videoID, ErrIPBlocked)
	}

	if code == http.StatusTooManyRequests {
		return "", fmt.Errorf("video %q: status 429: %w", videoID, ErrIPBlocked)
	}

	if code != http.StatusOK {
		return "", fmt.Errorf("watch page for %q got code %d: %w", videoID, code, ErrNotOk)
	}

	if reason, unplayable := playabilityError(sContent); unplayable {
		return "", fmt.Errorf("video %q not playable: %s: %w", videoID, reason, ErrUnavailable)
	}

	split := strings.Split(sContent, `"captions":`)
	if len(split) <= 1 {
		return "", fmt.Errorf("video %q has no captions data: %w", videoID, ErrTranscriptsDisabled)
	}

	rawCaptions := strings.ReplaceAll(strings.Split(split[1], `,"videoDetails`)[0], "\n", "")
	captionsList := resCaptionsList{}
	if err := json.Unmarshal([]byte(rawCaptions), &captionsList); err != nil {
		return "", fmt.Errorf("could not unmarshal caption tracks %q: %w", rawCaptions, err)
	}

	track := bestTrack(captionsList.PlayerCaptionsTracklistRenderer.CaptionTracks, lang)
	if track == nil {
		return "", fmt.Errorf("video %q has no track for %q: %w", videoID, lang, ErrNoTranscript)
	}

	code, body, err := c.get(ctx, track.BaseUrl)
	if err != nil {
		return "", fmt.Errorf("captions request: %w", err)
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("captions file status code %d: %w", code, ErrNotOk)
	}

	tt := timedText{}
	if err := xml.Unmarshal(body, &tt); err != nil {
		return "", fmt.Errorf("could not parse transcript xml %q: %w", body, err)
	}

	parts := make([]string, 0, len(tt.Entries))
	for _, entry := range tt.Entries {
		if txt := strings.TrimSpace(html.UnescapeString(entry.Text)); txt != "" {
			parts = append(parts, txt)
		}
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("video %q transcript is empty: %w", videoID, ErrNoTranscript)
	}

	return strings.Join(parts, " "), nil
}

func playabilityError(content string) (string, bool) {
	idx := strings.Index(content, `"playabilityStatus":`)
	if idx < 0 {
		return "", false
	}
	// Only look at the status object itself, the rest of the page mentions
	// these words freely.
	section := content[idx:]
	if end := strings.Index(section, `},"`); end > 0 {
		section = section[:end]
	}
	for _, status := range []string{`"ERROR"`, `"UNPLAYABLE"`, `"LOGIN_REQUIRED"`} {
		if strings.Contains(section, status) {
			reason := "unknown"
			if ri := strings.Index(section, `"reason":"`); ri >= 0 {
				rest := section[ri+len(`"reason":"`):]
				if re := strings.Index(rest, `"`); re > 0 {
					reason = rest[:re]
				}
			}
			return reason, true
		}
	}
	return "", false
}

// Returns the best caption track for the language hint: manual track in the
// language, then any track in the language, then a manual track in anything,
// then whatever is first.
func bestTrack(tracks []Track, lang string) *Track {
	for i, t := range tracks {
		if t.LanguageCode == lang && t.Kind != "asr" {
			return &tracks[i]
		}
	}

	for i, t := range tracks {
		if t.LanguageCode == lang {
			return &tracks[i]
		}
	}

	for i, t := range tracks {
		if t.Kind != "asr" {
			return &tracks[i]
		}
	}

	return nil
}

type resVideos struct {
	Items []struct {
		Id      string
		Snippet struct {
			PublishedAt          string
			ChannelId            string
			ChannelTitle         string
			Title                string
			LiveBroadcastContent string
		}
		ContentDetails struct {
			Duration string // ISO 8601, ex: PT1H2M3S.
		}
	}
}

// Video is the metadata the pipeline needs before touching a video.
type Video struct {
	ID          string
	Title       string
	ChannelID   string
	Channel     string
	PublishedAt time.Time
	Duration    time.Duration
	Live        bool
}

func (v *Video) URL() string {
	return "https://www.youtube.com/watch?v=" + v.ID
}

// Video fetches snippet and duration metadata through the Data API.
// Uses 1 quota.
func (c *Client) Video(ctx context.Context, id string) (*Video, error) {
	code, body, err := c.get(ctx, fmt.Sprintf(
		"%s?part=snippet,contentDetails&id=%s&key=%s", EndpointVideos, url.QueryEscape(id), c.Key,
	))
	if err != nil {
		return nil, fmt.Errorf("video %q request: %w", id, err)
	}
	if code == http.StatusForbidden {
		return nil, ErrQuotaExceeded
	}
	if code != http.StatusOK {
		return nil, fmt.Errorf("videos status code %d: %w", code, ErrNotOk)
	}

	result := resVideos{}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("unmarshalling videos response %q: %w", string(body), err)
	}
	if len(result.Items) == 0 {
		return nil, fmt.Errorf("video %q: %w", id, ErrNotFound)
	}

	item := result.Items[0]
	published, err := ParsePublishedTime(item.Snippet.PublishedAt)
	if err != nil {
		return nil, err
	}
	duration, err := ParseISO8601Duration(item.ContentDetails.Duration)
	if err != nil {
		return nil, fmt.Errorf("video %q: %w", id, err)
	}

	return &Video{
		ID:          item.Id,
		Title:       item.Snippet.Title,
		ChannelID:   item.Snippet.ChannelId,
		Channel:     item.Snippet.ChannelTitle,
		PublishedAt: published,
		Duration:    duration,
		Live:        item.Snippet.LiveBroadcastContent != "" && item.Snippet.LiveBroadcastContent != "none",
	}, nil
}

func ParsePublishedTime(value string) (time.Time, error) {
	published, err := time.Parse("2006-01-02T15:04:05Z", value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse published time %q: %w", value, err)
	}

	return published, nil
}

var durationPattern = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// ParseISO8601Duration converts a Data API duration (ex: PT5M30S) to a
// time.Duration.
func ParseISO8601Duration(value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}

	m := durationPattern.FindStringSubmatch(value)
	if m == nil {
		return 0, fmt.Errorf("could not parse ISO 8601 duration %q", value)
	}

	var total time.Duration
	for i, mult := range []time.Duration{time.Hour, time.Minute, time.Second} {
		if m[i+1] == "" {
			continue
		}
		n, err := strconv.Atoi(m[i+1])
		if err != nil {
			return 0, fmt.Errorf("duration component %q: %w", m[i+1], err)
		}
		total += time.Duration(n) * mult
	}

	return total, nil
}
