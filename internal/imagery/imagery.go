// Package imagery resolves the themed picture a room's tiles are cut from.
//
// Providers never fail: any problem talking to the upstream photo service is
// logged and replaced by a fixed fallback URL.
package imagery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultFallbackURL = "https://via.placeholder.com/300?text=Puzzle+Image"
	DefaultBaseURL     = "https://api.unsplash.com"

	maxBodyBytes = 1 << 20
)

var errNoImage = errors.New("response carried no image url")

type Provider interface {
	ThemedImageURL(ctx context.Context, topic string) string
}

// Static always hands back the same URL.
type Static string

func (s Static) ThemedImageURL(context.Context, string) string { return string(s) }

// Unsplash fetches a random squarish photo matching the topic.
type Unsplash struct {
	client    *http.Client
	baseURL   string
	accessKey string
	fallback  string
	log       *zap.Logger
}

type UnsplashOption func(*Unsplash)

// WithBaseURL points the provider at another API root (tests, proxies).
func WithBaseURL(base string) UnsplashOption {
	return func(u *Unsplash) { u.baseURL = base }
}

func NewUnsplash(accessKey string, timeout time.Duration, fallback string, log *zap.Logger, opts ...UnsplashOption) *Unsplash {
	if fallback == "" {
		fallback = DefaultFallbackURL
	}
	u := &Unsplash{
		client:    &http.Client{Timeout: timeout},
		baseURL:   DefaultBaseURL,
		accessKey: accessKey,
		fallback:  fallback,
		log:       log,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

func (u *Unsplash) ThemedImageURL(ctx context.Context, topic string) string {
	start := time.Now()
	imageURL, err := u.fetch(ctx, topic)
	if err != nil {
		u.log.Warn("image fetch failed, using fallback",
			zap.String("topic", topic),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err),
		)
		return u.fallback
	}
	u.log.Debug("image fetched", zap.String("topic", topic), zap.Duration("elapsed", time.Since(start)))
	return imageURL
}

type photo struct {
	URLs struct {
		Regular string `json:"regular"`
	} `json:"urls"`
}

func (u *Unsplash) fetch(ctx context.Context, topic string) (string, error) {
	q := url.Values{}
	q.Set("query", topic)
	q.Set("orientation", "squarish")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.baseURL+"/photos/random?"+q.Encode(), nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Client-ID "+u.accessKey)
	req.Header.Set("Accept-Version", "v1")

	resp, err := u.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("unsplash responded %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", err
	}

	// The random endpoint answers with an object, or an array when count is set.
	var one photo
	if err := json.Unmarshal(body, &one); err == nil {
		if one.URLs.Regular == "" {
			return "", errNoImage
		}
		return one.URLs.Regular, nil
	}

	var many []photo
	if err := json.Unmarshal(body, &many); err != nil {
		return "", fmt.Errorf("decode unsplash response: %w", err)
	}
	if len(many) == 0 || many[0].URLs.Regular == "" {
		return "", errNoImage
	}
	return many[0].URLs.Regular, nil
}
