package tube

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

type resChannels struct {
	Items []struct {
		ContentDetails struct {
			RelatedPlaylists struct {
				Uploads string
			}
		}
	}
}

// UploadsPlaylist resolves the uploads playlist ID for a channel. Uses 1 quota.
func (c *Client) UploadsPlaylist(ctx context.Context, channelID string) (string, error) {
	code, body, err := c.get(ctx, fmt.Sprintf(
		"%s?part=contentDetails&id=%s&key=%s", EndpointChannels, url.QueryEscape(channelID), c.Key,
	))
	if err != nil {
		return "", fmt.Errorf("retrieving channel %q: %w", channelID, err)
	}
	if code == http.StatusForbidden {
		return "", ErrQuotaExceeded
	}
	if code != http.StatusOK {
		return "", fmt.Errorf("channels status code %d: %w", code, ErrNotOk)
	}

	result := resChannels{}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("unmarshalling channels response: %w", err)
	}
	if len(result.Items) == 0 {
		return "", fmt.Errorf("channel %q: %w", channelID, ErrNotFound)
	}

	uploads := result.Items[0].ContentDetails.RelatedPlaylists.Uploads
	if uploads == "" {
		return "", fmt.Errorf("channel %q has no uploads playlist: %w", channelID, ErrNotFound)
	}

	return uploads, nil
}

type resPlaylistItems struct {
	NextPageToken string
	Items         []struct {
		ContentDetails struct {
			VideoId          string
			VideoPublishedAt string
		}
		Snippet struct {
			Title string
		}
	}
}

// VideoRef is a discovery hit; full metadata comes from Videos.
type VideoRef struct {
	ID          string
	Title       string
	PublishedAt time.Time
}

// RecentVideos pages through a channel's uploads and returns videos published
// at or after since, newest first, capped at max. Paging stops as soon as a
// whole page is older than the window.
func (c *Client) RecentVideos(ctx context.Context, channelID string, since time.Time, max int) ([]VideoRef, error) {
	playlistID, err := c.UploadsPlaylist(ctx, channelID)
	if err != nil {
		return nil, err
	}

	var refs []VideoRef
	var token string
	for {
		path := fmt.Sprintf(
			"%s?part=contentDetails,snippet&playlistId=%s&key=%s&maxResults=50",
			EndpointPlaylistItems, url.QueryEscape(playlistID), c.Key,
		)
		if token != "" {
			path += "&pageToken=" + url.QueryEscape(token)
		}

		code, body, err := c.get(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("retrieving playlist %q items: %w", playlistID, err)
		}
		if code == http.StatusForbidden {
			return nil, ErrQuotaExceeded
		}
		if code != http.StatusOK {
			return nil, fmt.Errorf("playlist items status code %d: %w", code, ErrNotOk)
		}

		page := resPlaylistItems{}
		if err := json.Unmarshal(body, &page); err != nil {
			return nil, fmt.Errorf("unmarshalling playlist items: %w", err)
		}
		if len(page.Items) == 0 {
			return refs, nil
		}

		pageAllOlder := true
		for _, item := range page.Items {
			if item.ContentDetails.VideoId == "" || item.ContentDetails.VideoPublishedAt == "" {
				continue
			}

			published, err := ParsePublishedTime(item.ContentDetails.VideoPublishedAt)
			if err != nil {
				continue
			}
			if published.Before(since) {
				continue
			}
			pageAllOlder = false

			refs = append(refs, VideoRef{
				ID:          item.ContentDetails.VideoId,
				Title:       item.Snippet.Title,
				PublishedAt: published,
			})
			if max > 0 && len(refs) >= max {
				return refs, nil
			}
		}

		if page.NextPageToken == "" || pageAllOlder {
			return refs, nil
		}
		token = page.NextPageToken
	}
}
