// Package editor asks a development server to open a source location in the
// developer's editor, and implements the server side of that request.
package editor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// OpenPath is the endpoint path the client calls and the middleware serves.
const OpenPath = "/__open-in-editor"

// DefaultRequestTimeout bounds a single open request.
const DefaultRequestTimeout = 5 * time.Second

// BaseURLFromScript derives scheme://host[:port] from the URL the running
// bundle was loaded from.
func BaseURLFromScript(scriptURL string) (string, error) {
	if scriptURL == "" {
		return "", errors.New("script URL is empty")
	}
	u, err := url.Parse(scriptURL)
	if err != nil {
		return "", fmt.Errorf("parse script URL: %w", err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return "", fmt.Errorf("script URL %q has no scheme or host", scriptURL)
	}
	return u.Scheme + "://" + u.Host, nil
}

// OpenURL builds the request URL for target ("path:line:column").
func OpenURL(baseURL, target string) string {
	return baseURL + OpenPath + "?file=" + url.QueryEscape(target)
}

// Resolver works out the dev server base URL when none is known yet.
type Resolver func(ctx context.Context) (string, error)

// Client sends fire-and-forget open requests.
type Client struct {
	timeout time.Duration
	http    *http.Client

	mu       sync.Mutex
	baseURL  string
	resolve  Resolver
	resolved bool
	closed   bool
	wg       sync.WaitGroup
}

// NewClient returns a Client for baseURL. A zero timeout selects
// DefaultRequestTimeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	return &Client{
		baseURL: baseURL,
		timeout: timeout,
		http:    &http.Client{Timeout: timeout},
	}
}

// BaseURL returns the dev server the client talks to, or "" while unknown.
func (c *Client) BaseURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.baseURL
}

// SetResolver installs r to look up the base URL on demand. It is consulted
// whenever the base URL is empty, so a page that had no bundle yet is retried
// on the next request.
func (c *Client) SetResolver(r Resolver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resolve = r
}

// Refresh forgets a base URL obtained from the resolver so the next request
// looks it up again. Configured base URLs are kept.
func (c *Client) Refresh() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.resolved {
		c.baseURL = ""
		c.resolved = false
	}
}

// Resolve returns the base URL, asking the resolver when it is empty.
func (c *Client) Resolve(ctx context.Context) string {
	c.mu.Lock()
	base, resolve := c.baseURL, c.resolve
	c.mu.Unlock()
	if base != "" || resolve == nil {
		return base
	}

	base, err := resolve(ctx)
	if err != nil {
		log.Printf("[editor] dev server unknown: %v", err)
		return ""
	}
	if base == "" {
		return ""
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseURL == "" {
		c.baseURL = base
		c.resolved = true
	}
	return c.baseURL
}

// Navigate requests target in the background. Failures are logged and never
// retried. It is a no-op for an empty target, after Close, or when no base URL
// can be found.
func (c *Client) Navigate(target string) {
	if target == "" {
		return
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		log.Printf("[editor] client closed; dropping open %s", target)
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
		defer cancel()
		if c.Resolve(ctx) == "" {
			return
		}
		if err := c.Open(ctx, target); err != nil {
			log.Printf("[editor] open %s failed: %v", target, err)
		}
	}()
}

// Open performs the request synchronously and returns the server's reply.
func (c *Client) Open(ctx context.Context, target string) error {
	base := c.Resolve(ctx)
	if base == "" {
		return errors.New("no dev server base URL configured")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, OpenURL(base, target), nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("dev server replied %d: %s", resp.StatusCode, body)
	}
	return nil
}

// Wait blocks until in-flight Navigate requests have finished.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close stops accepting Navigate calls and waits for the in-flight ones.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.wg.Wait()
}
