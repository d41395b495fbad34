// Package notify dispatches webhook notifications to external collaborators
// such as an operator-configured audit webhook. No other package in this
// module calls it; the HITL engine does not use it. Adapted from the teacher's
// notify.Service, which dispatched recipe-run lifecycle events to
// registered channel drivers; this version keeps the same parallel
// dispatch-with-retry idiom but narrows the channel set to a single
// webhook driver, since the mesh's Non-goals exclude a channel-driver
// registry (Slack/Teams/etc are domain tool implementations).
package notify

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is the payload delivered to a webhook on an approval or routing
// lifecycle transition.
type Event struct {
	Type      string         `json:"type"`
	ID        string         `json:"id"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Result reports the outcome of a single webhook dispatch attempt.
type Result struct {
	URL      string
	Success  bool
	Error    string
	Attempts int
}

// Service dispatches events to zero or more webhook URLs, retrying each
// with linear backoff, same as teacher's sendWithRetries.
type Service struct {
	client *http.Client
	secret []byte

	mu   sync.RWMutex
	urls []string
}

// New constructs a Service. secret, if non-empty, signs each payload with
// HMAC-SHA256 in an X-Signature header (teacher's WebhookChannelDriver
// pattern).
func New(secret string) *Service {
	return &Service{
		client: &http.Client{Timeout: 10 * time.Second},
		secret: []byte(secret),
	}
}

// RegisterWebhook adds a destination URL to the dispatch list.
func (s *Service) RegisterWebhook(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.urls = append(s.urls, url)
}

// DispatchAll sends ev to every registered webhook concurrently and
// returns once all attempts (including retries) have finished. One
// webhook's failure never prevents delivery to the others — directly
// grounded on the teacher's DispatchAll fan-out.
func (s *Service) DispatchAll(ctx context.Context, ev Event) []Result {
	s.mu.RLock()
	urls := append([]string(nil), s.urls...)
	s.mu.RUnlock()

	results := make([]Result, len(urls))
	var wg sync.WaitGroup
	for i, url := range urls {
		wg.Add(1)
		go func(i int, url string) {
			defer wg.Done()
			results[i] = s.sendWithRetries(ctx, url, ev)
		}(i, url)
	}
	wg.Wait()
	return results
}

func (s *Service) sendWithRetries(ctx context.Context, url string, ev Event) Result {
	body, err := json.Marshal(ev)
	if err != nil {
		return Result{URL: url, Success: false, Error: err.Error()}
	}

	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := s.send(ctx, url, body); err != nil {
			lastErr = err
			log.Warn().Str("url", url).Int("attempt", attempt).Err(err).Msg("webhook dispatch failed")
			select {
			case <-ctx.Done():
				return Result{URL: url, Success: false, Error: ctx.Err().Error(), Attempts: attempt}
			case <-time.After(time.Duration(attempt*2) * time.Second):
			}
			continue
		}
		return Result{URL: url, Success: true, Attempts: attempt}
	}
	return Result{URL: url, Success: false, Error: lastErr.Error(), Attempts: maxAttempts}
}

func (s *Service) send(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if len(s.secret) > 0 {
		mac := hmac.New(sha256.New, s.secret)
		mac.Write(body)
		req.Header.Set("X-Signature", hex.EncodeToString(mac.Sum(nil)))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errNonSuccessStatus
	}
	return nil
}

var errNonSuccessStatus = errors.New("webhook responded with non-2xx status")
