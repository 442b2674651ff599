package crm

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
	"golang.org/x/oauth2"

	"pitchmail/models"
	"pitchmail/store"
)

var ErrTokenMiss = errors.New("access token not cached")

// TokenCache keeps access tokens between refreshes.
type TokenCache interface {
	Get(ctx context.Context, name string) (*oauth2.Token, error)
	Set(ctx context.Context, name string, tok *oauth2.Token) error
}

// RedisTokenCache stores tokens as JSON with a ttl matching their expiry.
type RedisTokenCache struct {
	Client *redis.Client
	Prefix string
}

func NewRedisTokenCache(client *redis.Client) *RedisTokenCache {
	return &RedisTokenCache{Client: client, Prefix: "crm:token:"}
}

func (c *RedisTokenCache) Get(ctx context.Context, name string) (*oauth2.Token, error) {
	raw, err := c.Client.Get(ctx, c.Prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrTokenMiss
	}
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, err
	}
	return &tok, nil
}

func (c *RedisTokenCache) Set(ctx context.Context, name string, tok *oauth2.Token) error {
	raw, err := json.Marshal(tok)
	if err != nil {
		return err
	}
	ttl := time.Until(tok.Expiry)
	if ttl <= 0 {
		ttl = time.Hour
	}
	return c.Client.Set(ctx, c.Prefix+name, raw, ttl).Err()
}

// StoreTokenCache keeps tokens in the api_access_tokens table.
type StoreTokenCache struct {
	Store store.Store
}

func (c *StoreTokenCache) Get(ctx context.Context, name string) (*oauth2.Token, error) {
	row, err := c.Store.GetAccessToken(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrTokenMiss
	}
	if err != nil {
		return nil, err
	}
	return &oauth2.Token{AccessToken: row.AccessToken, TokenType: "Zoho-oauthtoken", Expiry: row.ExpiresAt}, nil
}

func (c *StoreTokenCache) Set(ctx context.Context, name string, tok *oauth2.Token) error {
	return c.Store.SaveAccessToken(ctx, &models.ApiAccessToken{
		ApiName:     name,
		AccessToken: tok.AccessToken,
		ExpiresAt:   tok.Expiry.UTC(),
	})
}
