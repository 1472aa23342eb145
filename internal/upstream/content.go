package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"forumguard/internal/moderation"
	"forumguard/internal/tracing"
)

// ContentClient looks up content items in the external content store.
//
//	GET {base}/content/{type}/{id} -> {"title","excerpt","authorId","createdAt"}
type ContentClient struct {
	baseURL string
	client  *http.Client
}

var _ moderation.ContentSource = (*ContentClient)(nil)

// NewContentClient creates a client for the content store at baseURL
func NewContentClient(baseURL string, client *http.Client) *ContentClient {
	return &ContentClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type contentResponse struct {
	Title     string    `json:"title"`
	Excerpt   string    `json:"excerpt"`
	AuthorID  string    `json:"authorId"`
	CreatedAt time.Time `json:"createdAt"`
}

// LookupContent returns the item, or nil when the content store reports 404.
func (c *ContentClient) LookupContent(ctx context.Context, ref moderation.ContentRef) (item *moderation.ContentItem, err error) {
	ctx, span := tracing.UpstreamSpan(ctx, "content", "lookup")
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	u := c.baseURL + "/content/" + url.PathEscape(string(ref.Type)) + "/" + url.PathEscape(ref.ID)
	var body contentResponse
	found, err := getJSON(ctx, c.client, u, &body)
	if err != nil || !found {
		return nil, err
	}

	return &moderation.ContentItem{
		Type:      ref.Type,
		ID:        ref.ID,
		Title:     body.Title,
		Excerpt:   body.Excerpt,
		AuthorID:  body.AuthorID,
		CreatedAt: body.CreatedAt,
	}, nil
}

// getJSON decodes a 200 response into out. found is false on 404.
func getJSON(ctx context.Context, client *http.Client, u string, out any) (found bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return false, nil
	case resp.StatusCode != http.StatusOK:
		return false, fmt.Errorf("%s returned status %d", u, resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, fmt.Errorf("failed to decode response: %w", err)
	}
	return true, nil
}
