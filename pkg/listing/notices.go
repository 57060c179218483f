package listing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Notice is one entry from the source's announcement board.
type Notice struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// NoticeClient reads recent announcements from the listing source. Titles
// are free text, so anything derived from them is best-effort only.
type NoticeClient struct {
	url        string
	httpClient *http.Client
}

// NewNoticeClient creates a client for the announcement board URL.
func NewNoticeClient(url string) *NoticeClient {
	return &NoticeClient{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

type noticeEnvelope struct {
	Data struct {
		Notices []Notice `json:"notices"`
	} `json:"data"`
}

// FetchNotices returns the most recent announcements, newest first.
func (c *NoticeClient) FetchNotices(ctx context.Context) ([]Notice, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch notices: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode >= 300 {
		return nil, fmt.Errorf("notice board status %d", res.StatusCode)
	}

	var envelope noticeEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode notices: %w", err)
	}
	return envelope.Data.Notices, nil
}
