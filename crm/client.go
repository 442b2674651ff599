// Package crm reads contacts from a Zoho CRM custom view.
package crm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"

	"pitchmail/utils"
)

var (
	ErrUnauthorized = errors.New("crm: access token rejected")
	ErrRateLimited  = errors.New("crm: rate limited")
)

const (
	tokenCacheKey     = "GetCustomViewRecords"
	defaultTokenLife  = time.Hour
	defaultPageSize   = 200
	maxPageSize       = 200
	defaultRateWait   = 8 * time.Second
	defaultRateTries  = 5
	authHeaderPrefix  = "Zoho-oauthtoken "
	contactsPath      = "/crm/v5/Contacts"
	maxErrorBodyBytes = 512
)

type Config struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	APIBaseURL   string
	TokenURL     string
	PageSize     int
	Timeout      time.Duration
}

// Client pages through custom view records, refreshing the access token
// when the API rejects it.
type Client struct {
	BaseURL      string
	PageSize     int
	HTTP         *http.Client
	OAuth        *oauth2.Config
	RefreshToken string
	Cache        TokenCache

	// RateLimitWait is slept before retrying a 429; RateLimitRetries bounds the retries.
	RateLimitWait    time.Duration
	RateLimitRetries int

	Logger *logrus.Entry

	mu sync.Mutex
}

func NewClient(cfg Config, cache TokenCache) *Client {
	pageSize := cfg.PageSize
	if pageSize <= 0 || pageSize > maxPageSize {
		pageSize = defaultPageSize
	}
	return &Client{
		BaseURL:  strings.TrimRight(cfg.APIBaseURL, "/"),
		PageSize: pageSize,
		HTTP:     &http.Client{Timeout: cfg.Timeout},
		OAuth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			Endpoint: oauth2.Endpoint{
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		RefreshToken:     cfg.RefreshToken,
		Cache:            cache,
		RateLimitWait:    defaultRateWait,
		RateLimitRetries: defaultRateTries,
		Logger:           logrus.WithField("component", "crm"),
	}
}

// ListViewContacts fetches one page of a custom view. An empty pageToken
// requests the first page.
func (c *Client) ListViewContacts(ctx context.Context, viewID, pageToken string) (*ListResponse, error) {
	if strings.TrimSpace(viewID) == "" {
		return nil, errors.New("crm: view id is required")
	}

	q := url.Values{}
	q.Set("cvid", viewID)
	q.Set("per_page", strconv.Itoa(c.PageSize))
	if pageToken != "" {
		q.Set("page_token", pageToken)
	}
	endpoint := c.BaseURL + contactsPath + "?" + q.Encode()

	tok, err := c.accessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	resp, err := c.fetchPage(ctx, endpoint, tok)
	if errors.Is(err, ErrUnauthorized) {
		c.Logger.WithField("view_id", viewID).Info("access token rejected, refreshing")
		if tok, err = c.accessToken(ctx, true); err != nil {
			return nil, err
		}
		resp, err = c.fetchPage(ctx, endpoint, tok)
	}
	if err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) fetchPage(ctx context.Context, endpoint, accessToken string) (*ListResponse, error) {
	var out *ListResponse
	attempt := 0
	err := utils.Retry(ctx, c.RateLimitRetries+1,
		func(int) time.Duration { return c.RateLimitWait },
		func(err error) bool { return errors.Is(err, ErrRateLimited) },
		func() error {
			attempt++
			resp, err := c.doGet(ctx, endpoint, accessToken)
			if errors.Is(err, ErrRateLimited) {
				c.Logger.WithField("attempt", attempt).Warn("crm rate limited")
			}
			out = resp
			return err
		})
	return out, err
}

func (c *Client) doGet(ctx context.Context, endpoint, accessToken string) (*ListResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", authHeaderPrefix+accessToken)
	req.Header.Set("Accept", "application/json")

	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("crm request: %w", err)
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return &ListResponse{}, nil
	case http.StatusUnauthorized:
		return nil, ErrUnauthorized
	case http.StatusTooManyRequests:
		return nil, ErrRateLimited
	default:
		body, _ := io.ReadAll(io.LimitReader(res.Body, maxErrorBodyBytes))
		return nil, fmt.Errorf("crm: unexpected status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}

	var out ListResponse
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return &ListResponse{}, nil
		}
		return nil, fmt.Errorf("crm: decode response: %w", err)
	}
	return &out, nil
}

// accessToken returns a cached token, or refreshes one when force is set or
// the cache has nothing usable.
func (c *Client) accessToken(ctx context.Context, force bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !force && c.Cache != nil {
		tok, err := c.Cache.Get(ctx, tokenCacheKey)
		switch {
		case err == nil && tok.Valid():
			return tok.AccessToken, nil
		case err != nil && !errors.Is(err, ErrTokenMiss):
			c.Logger.WithError(err).Warn("token cache read failed")
		}
	}

	if c.RefreshToken == "" {
		return "", errors.New("crm: refresh token not configured")
	}

	tctx := context.WithValue(ctx, oauth2.HTTPClient, c.HTTP)
	tok, err := c.OAuth.TokenSource(tctx, &oauth2.Token{RefreshToken: c.RefreshToken}).Token()
	if err != nil {
		return "", fmt.Errorf("crm: refresh access token: %w", err)
	}
	if tok.Expiry.IsZero() {
		tok.Expiry = time.Now().Add(defaultTokenLife)
	}

	if c.Cache != nil {
		if err := c.Cache.Set(ctx, tokenCacheKey, tok); err != nil {
			c.Logger.WithError(err).Warn("token cache write failed")
		}
	}
	return tok.AccessToken, nil
}
