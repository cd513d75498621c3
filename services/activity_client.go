// services/activity_client.go
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ActivityStore is the read-only view of the community service the
// eligibility evaluator needs. All lookups are remote; any failure is
// surfaced to the evaluator, which fails closed.
type ActivityStore interface {
	IsCommunityMember(ctx context.Context, userID, communityID string) (bool, error)
	CountCommunityPosts(ctx context.Context, userID, communityID string) (int64, error)
	CountPosts(ctx context.Context, userID string) (int64, error)
	PostLikeCounts(ctx context.Context, userID string) ([]int64, error)
	CountComments(ctx context.Context, userID string) (int64, error)
	EventAttendees(ctx context.Context, eventID string) ([]string, error)
	ReadingStreak(ctx context.Context, userID string) (int64, error)
}

// ActivityClient talks to the community service over the internal API.
type ActivityClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewActivityClient(baseURL, token string) *ActivityClient {
	return &ActivityClient{
		BaseURL: baseURL,
		Token:   token,
		Client: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// get performs an authenticated GET and decodes the JSON body into out.
func (c *ActivityClient) get(ctx context.Context, path string, query url.Values, out interface{}) error {
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid activity service URL %q: %w", c.BaseURL, err)
	}
	endpoint := base.JoinPath(path)
	if query != nil {
		endpoint.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Service-Token", c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return fmt.Errorf("activity service request failed: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("activity service returned %d: %s", resp.StatusCode, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *ActivityClient) IsCommunityMember(ctx context.Context, userID, communityID string) (bool, error) {
	var out struct {
		Member bool `json:"member"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.get(ctx, fmt.Sprintf("/api/v1/internal/communities/%s/membership", communityID), q, &out); err != nil {
		return false, err
	}
	return out.Member, nil
}

func (c *ActivityClient) CountCommunityPosts(ctx context.Context, userID, communityID string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	q := url.Values{"user_id": {userID}, "community_id": {communityID}}
	if err := c.get(ctx, "/api/v1/internal/posts/count", q, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *ActivityClient) CountPosts(ctx context.Context, userID string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.get(ctx, "/api/v1/internal/posts/count", q, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

// PostLikeCounts returns the like count of each of the user's posts,
// so per-post thresholds can be checked without summing.
func (c *ActivityClient) PostLikeCounts(ctx context.Context, userID string) ([]int64, error) {
	var out struct {
		Likes []int64 `json:"likes"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.get(ctx, "/api/v1/internal/posts/likes", q, &out); err != nil {
		return nil, err
	}
	return out.Likes, nil
}

func (c *ActivityClient) CountComments(ctx context.Context, userID string) (int64, error) {
	var out struct {
		Count int64 `json:"count"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.get(ctx, "/api/v1/internal/comments/count", q, &out); err != nil {
		return 0, err
	}
	return out.Count, nil
}

func (c *ActivityClient) EventAttendees(ctx context.Context, eventID string) ([]string, error) {
	var out struct {
		Attendees []string `json:"attendees"`
	}
	if err := c.get(ctx, fmt.Sprintf("/api/v1/internal/events/%s/attendees", eventID), nil, &out); err != nil {
		return nil, err
	}
	return out.Attendees, nil
}

func (c *ActivityClient) ReadingStreak(ctx context.Context, userID string) (int64, error) {
	var out struct {
		CurrentStreak int64 `json:"current_streak"`
	}
	q := url.Values{"user_id": {userID}}
	if err := c.get(ctx, "/api/v1/internal/reading-streaks/current", q, &out); err != nil {
		return 0, err
	}
	return out.CurrentStreak, nil
}
