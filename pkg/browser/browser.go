// Package browser owns the shared headless browser and hands out isolated
// sessions, bounded per portal target.
package browser

import (
	"context"
	"errors"
)

// ErrPoolClosed is returned by Acquire after Close.
var ErrPoolClosed = errors.New("browser pool closed")

// Session is one isolated browsing context: its own cookies and storage.
// Close must be called exactly once, on every exit path.
type Session interface {
	Navigate(ctx context.Context, url string) error
	// WaitReady waits until selector is present and visible.
	WaitReady(ctx context.Context, selector string) error
	Fill(ctx context.Context, selector, value string) error
	Select(ctx context.Context, selector, value string) error
	Click(ctx context.Context, selector string) error
	// WaitLoad waits for the page to settle after a click that may navigate:
	// the document is complete and its location stopped changing.
	WaitLoad(ctx context.Context) error
	// Exists checks for selector without waiting.
	Exists(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Content(ctx context.Context) (string, error)
	URL(ctx context.Context) (string, error)
	Close() error
}

// Browser hands out sessions. limit bounds the concurrent sessions per target.
type Browser interface {
	Acquire(ctx context.Context, target string, limit int) (Session, error)
	Close() error
}
