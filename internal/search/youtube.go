package search

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"golang.org/x/time/rate"
	"google.golang.org/api/option"
	"google.golang.org/api/youtube/v3"
)

// DefaultMaxResults is used when a caller asks for zero results.
const DefaultMaxResults = 10

// maxResultsLimit is the largest page the YouTube Data API returns.
const maxResultsLimit = 50

// YouTubeConfig holds configuration for the YouTube Data API.
type YouTubeConfig struct {
	APIKey string // YOUTUBE_API_KEY
	// Endpoint overrides the API base URL. Leave empty in production.
	Endpoint string
	// Requests per Window caps calls to the API across all clients, to keep
	// within the project quota. Zero disables the cap.
	Requests int
	Window   time.Duration
}

// YouTubeSearcher implements Searcher using the YouTube Data API v3.
type YouTubeSearcher struct {
	service *youtube.Service
	limiter *rate.Limiter // nil when uncapped
}

// NewYouTubeSearcher creates a searcher authenticated with an API key.
func NewYouTubeSearcher(ctx context.Context, cfg YouTubeConfig) (*YouTubeSearcher, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("youtube api key is required")
	}

	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}

	svc, err := youtube.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create youtube service: %w", err)
	}
	s := &YouTubeSearcher{service: svc}
	if cfg.Requests > 0 && cfg.Window > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.Window/time.Duration(cfg.Requests)), cfg.Requests)
	}
	return s, nil
}

// Search returns videos matching query. Channels and playlists are excluded.
func (s *YouTubeSearcher) Search(ctx context.Context, query string, max int) ([]Result, error) {
	if max <= 0 {
		max = DefaultMaxResults
	}
	if max > maxResultsLimit {
		max = maxResultsLimit
	}

	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: quota wait: %v", ErrUpstream, err)
		}
	}

	resp, err := s.service.Search.List([]string{"snippet"}).
		Q(query).
		Type("video").
		MaxResults(int64(max)).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	results := make([]Result, 0, len(resp.Items))
	for _, item := range resp.Items {
		if item.Id == nil || item.Id.VideoId == "" || item.Snippet == nil {
			continue
		}
		results = append(results, Result{
			// The API returns HTML-escaped titles.
			Title:     html.UnescapeString(item.Snippet.Title),
			URL:       "https://www.youtube.com/watch?v=" + item.Id.VideoId,
			Thumbnail: thumbnailURL(item.Snippet.Thumbnails),
		})
	}
	return results, nil
}

// thumbnailURL picks the largest available thumbnail.
func thumbnailURL(t *youtube.ThumbnailDetails) string {
	if t == nil {
		return ""
	}
	for _, th := range []*youtube.Thumbnail{t.Maxres, t.High, t.Medium, t.Default} {
		if th != nil && th.Url != "" {
			return th.Url
		}
	}
	return ""
}
