// Package httpclient implements the engine's network collaborators over
// HTTP: the live upstream API and the community shared cache.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	logging "github.com/ipfs/go-log/v2"
	"github.com/userloc/go-userloc/apierror"
	"github.com/userloc/go-userloc/lookup/client"
	"github.com/userloc/go-userloc/lookup/model"
)

var log = logging.Logger("lookup/httpclient")

const userPath = "api/user"

// UpstreamClient fetches live user metadata from the unofficial upstream
// API. Credentials are opaque session tokens passed through on every
// request; acquisition and refresh happen elsewhere.
type UpstreamClient struct {
	c      *http.Client
	url    *url.URL
	header http.Header

	credsMutex  sync.RWMutex
	credentials string
}

var _ client.UpstreamSource = (*UpstreamClient)(nil)

// NewUpstream creates a live upstream source for the given base URL.
func NewUpstream(baseURL string, options ...Option) (*UpstreamClient, error) {
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

	return &UpstreamClient{
		c:      opts.client(),
		url:    u.JoinPath(userPath),
		header: opts.header,
	}, nil
}

// SetCredentials replaces the opaque session token sent with requests. The
// surrounding application calls this after re-authentication.
func (c *UpstreamClient) SetCredentials(credentials string) {
	c.credsMutex.Lock()
	c.credentials = credentials
	c.credsMutex.Unlock()
}

// Fetch gets metadata for one username. Non-success statuses are returned as
// classified apierror values; 200 bodies pass through the strict parsing
// boundary. The username must already be normalized.
func (c *UpstreamClient) Fetch(ctx context.Context, username string) (*model.UserInfo, error) {
	u := c.url.JoinPath(username)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	for key, vals := range c.header {
		for _, val := range vals {
			req.Header.Add(key, val)
		}
	}
	req.Header.Add("Accept", "application/json")

	c.credsMutex.RLock()
	creds := c.credentials
	c.credsMutex.RUnlock()
	if creds != "" {
		req.Header.Set("Authorization", "Bearer "+creds)
	}

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
		return nil, apierror.FromResponse(resp.StatusCode, resp.Header, body)
	}

	info, err := model.ParseUserInfo(body)
	if err != nil {
		log.Errorw("Cannot parse upstream response", "user", username, "err", err)
		return nil, err
	}
	return info, nil
}

func (c *UpstreamClient) String() string {
	return c.url.String()
}
