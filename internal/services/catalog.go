package services

import (
	"cmp"
	"context"
	"encoding/json"
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

	"github.com/tunr/backend/internal/engine"
)

// ErrCatalogDisabled is returned when the backing service is not configured.
var ErrCatalogDisabled = errors.New("catalog lookup not configured")

// Search results outside this range are not karaoke tracks.
const (
	minTrackSeconds = 30
	maxTrackSeconds = 600

	defaultSearchLimit = 20
	maxSearchLimit     = 50
)

// UpstreamError is a non-2xx reply from the songbook or YouTube.
type UpstreamError struct {
	Call   string
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: upstream status %d: %s", e.Call, e.Status, e.Body)
}

// CatalogService resolves song numbers against an external songbook and
// searches YouTube for tracks to add to it.
type CatalogService struct {
	catalogURL string
	apiKey     string
	youtubeURL string
	httpClient *http.Client
}

// NewCatalogService creates a CatalogService. Either source may be empty, in
// which case the matching operation returns ErrCatalogDisabled.
func NewCatalogService(catalogURL, youtubeAPIKey string) *CatalogService {
	return &CatalogService{
		catalogURL: strings.TrimRight(catalogURL, "/"),
		apiKey:     youtubeAPIKey,
		youtubeURL: "https://www.googleapis.com/youtube/v3",
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// getJSON decodes a 200 reply into out. A 404 maps to engine.ErrNotFound.
func (s *CatalogService) getJSON(ctx context.Context, call, rawURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", call, err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", call, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%s: %w", call, engine.ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return &UpstreamError{Call: call, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: decode: %w", call, err)
	}
	return nil
}

func (s *CatalogService) youtube(endpoint string, params url.Values) string {
	params.Set("key", s.apiKey)
	return s.youtubeURL + "/" + endpoint + "?" + params.Encode()
}

type songbookEntry struct {
	Title        string `json:"title"`
	Artist       string `json:"artist"`
	MediaRef     string `json:"mediaRef"`
	YouTubeID    string `json:"youtube_id"`
	Duration     string `json:"duration"`
	ThumbnailURL string `json:"thumbnailUrl"`
}

// Lookup fetches song number from the songbook service. Durations arrive as
// "M:SS" clock strings; a missing one is filled from YouTube when possible.
func (s *CatalogService) Lookup(ctx context.Context, number int) (engine.CatalogItem, error) {
	if s.catalogURL == "" {
		return engine.CatalogItem{}, ErrCatalogDisabled
	}

	var entry songbookEntry
	call := "songbook lookup " + strconv.Itoa(number)
	if err := s.getJSON(ctx, call, s.catalogURL+"/"+strconv.Itoa(number), &entry); err != nil {
		return engine.CatalogItem{}, err
	}

	item := engine.CatalogItem{
		Number:          number,
		Title:           entry.Title,
		Artist:          entry.Artist,
		MediaRef:        cmp.Or(entry.MediaRef, entry.YouTubeID),
		DurationSeconds: engine.ParseClockDuration(entry.Duration),
		ThumbnailURL:    entry.ThumbnailURL,
	}
	if item.Title == "" || item.MediaRef == "" {
		return engine.CatalogItem{}, fmt.Errorf("song %d: incomplete songbook entry: %w", number, engine.ErrNotFound)
	}

	if item.DurationSeconds == 0 && s.apiKey != "" {
		if d, err := s.videoDurations(ctx, []string{item.MediaRef}); err == nil {
			item.DurationSeconds = d[item.MediaRef]
		}
	}
	return item, nil
}

type youtubeThumbnail struct {
	URL string `json:"url"`
}

type youtubeSearchResponse struct {
	Items []struct {
		ID struct {
			Kind    string `json:"kind"`
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
			Thumbnails   struct {
				Default youtubeThumbnail `json:"default"`
				Medium  youtubeThumbnail `json:"medium"`
				High    youtubeThumbnail `json:"high"`
			} `json:"thumbnails"`
		} `json:"snippet"`
	} `json:"items"`
}

// Search queries YouTube for embeddable videos matching query and keeps those
// with a plausible track length. Results carry no song number; they are
// candidates for registration.
func (s *CatalogService) Search(ctx context.Context, query string, limit int) ([]engine.CatalogItem, error) {
	if s.apiKey == "" {
		return nil, ErrCatalogDisabled
	}
	if limit <= 0 || limit > maxSearchLimit {
		limit = defaultSearchLimit
	}

	var found youtubeSearchResponse
	searchURL := s.youtube("search", url.Values{
		"part":            {"snippet"},
		"type":            {"video"},
		"videoEmbeddable": {"true"},
		"q":               {query},
		"maxResults":      {strconv.Itoa(limit)},
	})
	if err := s.getJSON(ctx, "youtube search", searchURL, &found); err != nil {
		return nil, err
	}

	items := make([]engine.CatalogItem, 0, len(found.Items))
	ids := make([]string, 0, len(found.Items))
	for _, hit := range found.Items {
		if hit.ID.Kind != "" && hit.ID.Kind != "youtube#video" {
			continue
		}
		thumbs := hit.Snippet.Thumbnails
		items = append(items, engine.CatalogItem{
			Title:        html.UnescapeString(hit.Snippet.Title),
			Artist:       html.UnescapeString(hit.Snippet.ChannelTitle),
			MediaRef:     hit.ID.VideoID,
			ThumbnailURL: cmp.Or(thumbs.High.URL, thumbs.Medium.URL, thumbs.Default.URL),
		})
		ids = append(ids, hit.ID.VideoID)
	}

	durations, err := s.videoDurations(ctx, ids)
	if err != nil {
		return nil, err
	}
	kept := items[:0]
	for _, item := range items {
		item.DurationSeconds = durations[item.MediaRef]
		if item.DurationSeconds >= minTrackSeconds && item.DurationSeconds <= maxTrackSeconds {
			kept = append(kept, item)
		}
	}
	return kept, nil
}

// videoDurations maps video id to length in seconds.
func (s *CatalogService) videoDurations(ctx context.Context, ids []string) (map[string]int, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var videos struct {
		Items []struct {
			ID             string `json:"id"`
			ContentDetails struct {
				Duration string `json:"duration"`
			} `json:"contentDetails"`
		} `json:"items"`
	}
	videosURL := s.youtube("videos", url.Values{"part": {"contentDetails"}, "id": {strings.Join(ids, ",")}})
	if err := s.getJSON(ctx, "youtube videos", videosURL, &videos); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(videos.Items))
	for _, v := range videos.Items {
		out[v.ID] = parseVideoDuration(v.ContentDetails.Duration)
	}
	return out, nil
}

var videoDurationRe = regexp.MustCompile(`^PT(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?$`)

// parseVideoDuration reads YouTube's ISO 8601 lengths such as "PT4M13S".
// Day designators and anything unparseable give 0.
func parseVideoDuration(d string) int {
	m := videoDurationRe.FindStringSubmatch(d)
	if m == nil {
		return 0
	}
	total := 0
	for i, unit := range []int{3600, 60, 1} {
		n, _ := strconv.Atoi(m[i+1])
		total += n * unit
	}
	return total
}
