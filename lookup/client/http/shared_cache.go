package httpclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/userloc/go-userloc/apierror"
	"github.com/userloc/go-userloc/lookup/client"
	"github.com/userloc/go-userloc/lookup/model"
)

const (
	lookupPath     = "v1/lookup"
	contributePath = "v1/contribute"
)

// SharedCacheClient talks to the community shared cache. Lookup failures
// here do not stop a tiered lookup; the coordinator degrades to the next
// tier.
type SharedCacheClient struct {
	c             *http.Client
	lookupURL     *url.URL
	contributeURL *url.URL
	header        http.Header
}

var _ client.SharedCache = (*SharedCacheClient)(nil)

// NewSharedCache creates a shared cache client for the given base URL.
func NewSharedCache(baseURL string, options ...Option) (*SharedCacheClient, error) {
	opts, err := getOpts(options)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("url must have http or https scheme: %s", baseURL)
	}
	u.Path = ""

	return &SharedCacheClient{
		c:             opts.client(),
		lookupURL:     u.JoinPath(lookupPath),
		contributeURL: u.JoinPath(contributePath),
		header:        opts.header,
	}, nil
}

type lookupRequest struct {
	Usernames []string `json:"usernames"`
}

type contributeRequest struct {
	Username string          `json:"username"`
	Info     *model.UserInfo `json:"info"`
}

// LookupBatch queries the shared cache for the given usernames. Usernames
// unknown to the shared cache are absent from the result map.
func (c *SharedCacheClient) LookupBatch(ctx context.Context, usernames []string) (map[string]*model.UserInfo, error) {
	if len(usernames) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(&lookupRequest{Usernames: usernames})
	if err != nil {
		return nil, err
	}

	body, err := c.post(ctx, c.lookupURL, data)
	if err != nil {
		return nil, err
	}

	found := make(map[string]*model.UserInfo)
	if err = json.Unmarshal(body, &found); err != nil {
		return nil, apierror.NewKind(fmt.Errorf("unexpected shared cache response: %w", err), apierror.KindParseError)
	}
	for _, info := range found {
		if info != nil {
			info.Tier = model.TierShared
		}
	}
	return found, nil
}

// Contribute publishes one live result to the shared cache.
func (c *SharedCacheClient) Contribute(ctx context.Context, username string, info *model.UserInfo) error {
	data, err := json.Marshal(&contributeRequest{Username: username, Info: info})
	if err != nil {
		return err
	}
	_, err = c.post(ctx, c.contributeURL, data)
	return err
}

func (c *SharedCacheClient) post(ctx context.Context, u *url.URL, data []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	for key, vals := range c.header {
		for _, val := range vals {
			req.Header.Add(key, val)
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Add("Accept", "application/json")

	resp, err := c.c.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		return nil, responseError(resp.StatusCode, resp.Header, body)
	}
	return body, nil
}

// responseError prefers the shared cache's JSON error message when the body
// carries one, falling back to raw body text.
func responseError(status int, header http.Header, body []byte) error {
	var msg apierror.ErrorMessage
	if json.Unmarshal(body, &msg) == nil && msg.Message != "" {
		if msg.Status == 0 {
			msg.Status = status
		}
		return apierror.New(errors.New(msg.Message), msg.Status)
	}
	return apierror.FromResponse(status, header, body)
}

func (c *SharedCacheClient) String() string {
	return c.lookupURL.String()
}
