// Package browsertest provides a scripted in-memory browser for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dukex/claimflow/pkg/browser"
)

// Page is the set of selectors visible on a page, with their text.
type Page map[string]string

// Site scripts a portal: what each URL shows and what each click leads to.
type Site struct {
	Pages map[string]Page
	// Clicks maps a selector to the page shown after clicking it.
	Clicks map[string]Page
	// Errors fails any operation on the given selector (or URL for Navigate).
	Errors map[string]error
	// Panic makes the operation on the given selector panic.
	Panic string
	// Delay postpones the page a click leads to, like a real page load.
	// Until then reads see the old page; WaitLoad and WaitReady wait for it.
	Delay time.Duration
}

// Browser is a fake browser.Browser that counts sessions.
type Browser struct {
	mu       sync.Mutex
	site     Site
	opened   int
	closed   int
	limits   map[string]int
	sessions []*Session

	AcquireErr error
}

var _ browser.Browser = (*Browser)(nil)

func New(site Site) *Browser {
	return &Browser{site: site, limits: make(map[string]int)}
}

func (b *Browser) Acquire(ctx context.Context, target string, limit int) (browser.Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.AcquireErr != nil {
		return nil, b.AcquireErr
	}

	b.opened++
	b.limits[target] = limit

	s := &Session{browser: b, site: b.site, filled: make(map[string]string), page: Page{}}
	b.sessions = append(b.sessions, s)

	return s, nil
}

func (b *Browser) Close() error { return nil }

// Opened and Closed count sessions handed out and released.
func (b *Browser) Opened() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.opened
}

func (b *Browser) Closed() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.closed
}

// Limit returns the last concurrency limit requested for target.
func (b *Browser) Limit(target string) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.limits[target]
}

// LastSession returns the most recently acquired session.
func (b *Browser) LastSession() *Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.sessions) == 0 {
		return nil
	}

	return b.sessions[len(b.sessions)-1]
}

// Session is a fake browser.Session.
type Session struct {
	browser *Browser
	site    Site

	mu      sync.Mutex
	page    Page
	url     string
	visited []string
	filled  map[string]string
	clicked []string
	closes  int

	// loading is closed when the pending click navigation lands. gen drops
	// a pending navigation superseded by a newer one.
	loading chan struct{}
	gen     int
}

var errSessionClosed = errors.New("session closed")

func (s *Session) check(key string) error {
	if s.closes > 0 {
		return errSessionClosed
	}

	if s.site.Panic != "" && s.site.Panic == key {
		panic("browsertest: scripted panic on " + key)
	}

	if err, ok := s.site.Errors[key]; ok {
		return err
	}

	return nil
}

func (s *Session) Navigate(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := s.check(url); err != nil {
		return err
	}

	s.gen++
	s.loading = nil
	s.url = url
	s.visited = append(s.visited, url)
	s.page = maps.Clone(s.site.Pages[url])

	if s.page == nil {
		s.page = Page{}
	}

	return nil
}

func (s *Session) present(selector string) error {
	if _, ok := s.page[selector]; !ok {
		return fmt.Errorf("selector %q not found on %s", selector, s.url)
	}

	return nil
}

// WaitLoad blocks until a delayed click navigation has landed.
func (s *Session) WaitLoad(ctx context.Context) error {
	s.mu.Lock()
	loading := s.loading
	s.mu.Unlock()

	if loading == nil {
		return ctx.Err()
	}

	select {
	case <-loading:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("page did not settle: %w", ctx.Err())
	}
}

// WaitReady waits out a pending navigation, then fails at once for a missing
// selector, as a real wait would at its deadline.
func (s *Session) WaitReady(ctx context.Context, selector string) error {
	if err := s.WaitLoad(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(selector); err != nil {
		return err
	}

	if err := s.present(selector); err != nil {
		return fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
	}

	return nil
}

func (s *Session) Fill(_ context.Context, selector, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(selector); err != nil {
		return err
	}

	if err := s.present(selector); err != nil {
		return err
	}

	s.filled[selector] = value

	return nil
}

func (s *Session) Select(ctx context.Context, selector, value string) error {
	return s.Fill(ctx, selector, value)
}

func (s *Session) Click(_ context.Context, selector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(selector); err != nil {
		return err
	}

	if err := s.present(selector); err != nil {
		return err
	}

	s.clicked = append(s.clicked, selector)

	next, ok := s.site.Clicks[selector]
	if !ok {
		return nil
	}

	s.gen++

	if s.site.Delay <= 0 {
		s.page = maps.Clone(next)

		return nil
	}

	gen, loading := s.gen, make(chan struct{})
	s.loading = loading

	time.AfterFunc(s.site.Delay, func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.gen == gen {
			s.page = maps.Clone(next)
			s.loading = nil
		}

		close(loading)
	})

	return nil
}

func (s *Session) Exists(_ context.Context, selector string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(selector); err != nil {
		return false, err
	}

	_, ok := s.page[selector]

	return ok, nil
}

func (s *Session) Text(_ context.Context, selector string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check(selector); err != nil {
		return "", err
	}

	if err := s.present(selector); err != nil {
		return "", err
	}

	return s.page[selector], nil
}

// Content renders the page texts in selector order.
func (s *Session) Content(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.check("html"); err != nil {
		return "", err
	}

	selectors := make([]string, 0, len(s.page))
	for selector := range s.page {
		selectors = append(selectors, selector)
	}

	sort.Strings(selectors)

	var b strings.Builder
	for _, selector := range selectors {
		fmt.Fprintf(&b, "<div data-sel=%q>%s</div>\n", selector, s.page[selector])
	}

	return b.String(), nil
}

func (s *Session) URL(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.url, nil
}

func (s *Session) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()

	s.browser.mu.Lock()
	s.browser.closed++
	s.browser.mu.Unlock()

	return nil
}

// Filled returns the value typed into selector.
func (s *Session) Filled(selector string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.filled[selector]
}

// Visited returns the navigated URLs in order.
func (s *Session) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.visited...)
}

// Clicked returns the clicked selectors in order.
func (s *Session) Clicked() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]string(nil), s.clicked...)
}
