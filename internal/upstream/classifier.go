package upstream

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"forumguard/internal/moderation"
	"forumguard/internal/tracing"
)

// ClassifierClient fetches spam scores computed by the external classifier.
//
//	GET {base}/scores/{type}/{id} -> {"score": 0-100}
type ClassifierClient struct {
	baseURL string
	client  *http.Client
}

var _ moderation.ScoreProvider = (*ClassifierClient)(nil)

// NewClassifierClient creates a client for the classifier at baseURL
func NewClassifierClient(baseURL string, client *http.Client) *ClassifierClient {
	return &ClassifierClient{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

type scoreResponse struct {
	Score *int `json:"score"`
}

// Score returns ok=false when the classifier has no score for ref yet (404 or null score).
func (c *ClassifierClient) Score(ctx context.Context, ref moderation.ContentRef) (score int, ok bool, err error) {
	ctx, span := tracing.UpstreamSpan(ctx, "classifier", "score")
	defer func() {
		tracing.EndWithError(span, err)
		span.End()
	}()

	u := c.baseURL + "/scores/" + url.PathEscape(string(ref.Type)) + "/" + url.PathEscape(ref.ID)
	var body scoreResponse
	found, err := getJSON(ctx, c.client, u, &body)
	if err != nil || !found || body.Score == nil {
		return 0, false, err
	}
	if *body.Score < 0 || *body.Score > 100 {
		return 0, false, fmt.Errorf("classifier returned out of range score %d for %s", *body.Score, ref)
	}
	return *body.Score, true, nil
}
