package browser

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/chromedp"
)

// settleInterval is how often WaitLoad samples the page.
const settleInterval = 250 * time.Millisecond

// Pool owns one headless browser process, started on first use, and hands out
// sessions as separate browser contexts.
type Pool struct {
	remoteURL string
	headless  bool
	logger    *slog.Logger
	limiter   *Limiter

	mu          sync.Mutex
	browserCtx  context.Context //nolint:containedctx // chromedp keeps the browser handle in a context
	cancelAlloc context.CancelFunc
	cancelBrows context.CancelFunc
	closed      bool

	open atomic.Int64
}

// Option configures a Pool.
type Option func(*Pool)

// WithRemoteURL attaches to an existing browser (e.g. "ws://localhost:9222")
// instead of launching one.
func WithRemoteURL(url string) Option {
	return func(p *Pool) { p.remoteURL = url }
}

// WithHeadful launches a visible browser, for debugging selectors.
func WithHeadful() Option {
	return func(p *Pool) { p.headless = false }
}

func NewPool(logger *slog.Logger, opts ...Option) *Pool {
	p := &Pool{
		headless: true,
		logger:   logger.With("module", "browser"),
		limiter:  NewLimiter(),
	}

	for _, opt := range opts {
		opt(p)
	}

	return p
}

// OpenSessions reports the sessions currently checked out.
func (p *Pool) OpenSessions() int64 {
	return p.open.Load()
}

func (p *Pool) start() (context.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	if p.browserCtx != nil {
		return p.browserCtx, nil
	}

	var allocCtx context.Context

	if p.remoteURL != "" {
		allocCtx, p.cancelAlloc = chromedp.NewRemoteAllocator(context.Background(), p.remoteURL)
	} else {
		opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", p.headless))
		allocCtx, p.cancelAlloc = chromedp.NewExecAllocator(context.Background(), opts...)
	}

	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// The first Run starts the browser process.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		p.cancelAlloc()

		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	p.browserCtx, p.cancelBrows = browserCtx, cancel
	p.logger.Info("browser started", "remote", p.remoteURL != "")

	return browserCtx, nil
}

// Acquire opens an isolated session for target once a slot is free.
func (p *Pool) Acquire(ctx context.Context, target string, limit int) (Session, error) {
	release, err := p.limiter.Acquire(ctx, target, limit)
	if err != nil {
		return nil, fmt.Errorf("waiting for %s session slot: %w", target, err)
	}

	browserCtx, err := p.start()
	if err != nil {
		release()

		return nil, err
	}

	tabCtx, cancel := chromedp.NewContext(browserCtx, chromedp.WithNewBrowserContext())

	// Create the target now so later runs on derived contexts do not own it.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		release()

		return nil, fmt.Errorf("failed to open browser context: %w", err)
	}

	p.open.Add(1)

	return &chromeSession{ctx: tabCtx, cancel: cancel, release: release, pool: p}, nil
}

// Close shuts the browser down. Sessions still open are cancelled with it.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true

	if p.cancelBrows != nil {
		p.cancelBrows()
		p.cancelAlloc()
		p.logger.Info("browser stopped")
	}

	return nil
}

type chromeSession struct {
	ctx     context.Context //nolint:containedctx // chromedp tab handle
	cancel  context.CancelFunc
	release func()
	pool    *Pool
	once    sync.Once
}

// run executes actions on the tab, bounded by the caller's ctx.
func (s *chromeSession) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc

		runCtx, cancelDeadline = context.WithDeadline(runCtx, deadline)
		defer cancelDeadline()
	}

	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	return chromedp.Run(runCtx, actions...)
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	return s.run(ctx, chromedp.Navigate(url))
}

func (s *chromeSession) WaitReady(ctx context.Context, selector string) error {
	return s.run(ctx, chromedp.WaitVisible(selector, chromedp.ByQuery))
}

func (s *chromeSession) Fill(ctx context.Context, selector, value string) error {
	return s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, "", chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (s *chromeSession) Select(ctx context.Context, selector, value string) error {
	return s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SetValue(selector, value, chromedp.ByQuery),
	)
}

func (s *chromeSession) Click(ctx context.Context, selector string) error {
	return s.run(ctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	)
}

type pageState struct {
	Ready string `json:"ready"`
	Href  string `json:"href"`
}

// WaitLoad polls readyState and location until two samples agree on a
// complete document. Evaluation errors while a navigation swaps the document
// are retried until ctx ends.
func (s *chromeSession) WaitLoad(ctx context.Context) error {
	ticker := time.NewTicker(settleInterval)
	defer ticker.Stop()

	var last string

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("page did not settle: %w", ctx.Err())
		case <-ticker.C:
		}

		var state pageState

		err := s.run(ctx, chromedp.Evaluate(`({ready: document.readyState, href: location.href})`, &state))
		if err != nil || state.Ready != "complete" {
			last = ""

			continue
		}

		if state.Href == last {
			return nil
		}

		last = state.Href
	}
}

func (s *chromeSession) Exists(ctx context.Context, selector string) (bool, error) {
	var nodes []*cdp.Node

	err := s.run(ctx, chromedp.Nodes(selector, &nodes, chromedp.ByQueryAll, chromedp.AtLeast(0)))
	if err != nil {
		return false, err
	}

	return len(nodes) > 0, nil
}

func (s *chromeSession) Text(ctx context.Context, selector string) (string, error) {
	var text string

	err := s.run(ctx, chromedp.Text(selector, &text, chromedp.ByQuery))

	return strings.TrimSpace(text), err
}

func (s *chromeSession) Content(ctx context.Context) (string, error) {
	var html string

	err := s.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))

	return html, err
}

func (s *chromeSession) URL(ctx context.Context) (string, error) {
	var url string

	err := s.run(ctx, chromedp.Location(&url))

	return url, err
}

// Close disposes the browser context and frees the target slot.
func (s *chromeSession) Close() error {
	s.once.Do(func() {
		s.cancel()
		s.release()
		s.pool.open.Add(-1)
	})

	return nil
}
