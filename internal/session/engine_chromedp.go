package session

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/storage"
	"github.com/chromedp/chromedp"
)

// ChromeConfig controls the headless Chrome engine.
type ChromeConfig struct {
	UserAgent string
}

// ChromeEngine implements Engine with chromedp and headless Chrome. One
// exec allocator, one browser process; every pooled context is a tab-level
// browser context sharing that process.
type ChromeEngine struct {
	cfg         ChromeConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
	rootCtx     context.Context
	rootCancel  context.CancelFunc
}

// NewChromeEngine creates an engine; the process launches on Start.
func NewChromeEngine(cfg ChromeConfig) *ChromeEngine {
	return &ChromeEngine{cfg: cfg}
}

// Start launches the browser process.
func (e *ChromeEngine) Start(_ context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if e.cfg.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(e.cfg.UserAgent))
	}
	e.allocCtx, e.allocCancel = chromedp.NewExecAllocator(context.Background(), opts...)
	e.rootCtx, e.rootCancel = chromedp.NewContext(e.allocCtx)

	// An empty Run forces the process to launch now, so a broken Chrome
	// install fails the first acquire instead of the first navigation.
	launchCtx, cancel := context.WithTimeout(e.rootCtx, 30*time.Second)
	defer cancel()
	if err := chromedp.Run(launchCtx); err != nil {
		e.Stop()
		return fmt.Errorf("launch chrome: %w", err)
	}
	return nil
}

// NewContext opens a fresh tab context seeded with the given auth state.
func (e *ChromeEngine) NewContext(_ context.Context, state AuthState) (EngineContext, error) {
	if e.rootCtx == nil {
		return nil, fmt.Errorf("engine not started")
	}
	tabCtx, cancel := chromedp.NewContext(e.rootCtx)
	if len(state.Cookies) > 0 {
		if err := chromedp.Run(tabCtx, setCookiesAction(state.Cookies)); err != nil {
			cancel()
			return nil, fmt.Errorf("seed cookies: %w", err)
		}
	}
	return &chromeContext{ctx: tabCtx, cancel: cancel}, nil
}

// Stop tears down the browser process and allocator.
func (e *ChromeEngine) Stop() {
	if e.rootCancel != nil {
		e.rootCancel()
		e.rootCancel = nil
	}
	if e.allocCancel != nil {
		e.allocCancel()
		e.allocCancel = nil
	}
	e.rootCtx = nil
	e.allocCtx = nil
}

type chromeContext struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func (c *chromeContext) Context() context.Context {
	return c.ctx
}

func (c *chromeContext) ExportState(ctx context.Context) (AuthState, error) {
	var cookies []*network.Cookie
	err := chromedp.Run(c.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = storage.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return AuthState{}, fmt.Errorf("get cookies: %w", err)
	}
	state := AuthState{Cookies: make([]Cookie, 0, len(cookies))}
	for _, ck := range cookies {
		state.Cookies = append(state.Cookies, Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Domain:   ck.Domain,
			Path:     ck.Path,
			Expires:  ck.Expires,
			HTTPOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
			SameSite: string(ck.SameSite),
		})
	}
	return state, nil
}

func (c *chromeContext) Close() error {
	c.cancel()
	return nil
}

func setCookiesAction(cookies []Cookie) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		params := make([]*network.CookieParam, 0, len(cookies))
		for _, ck := range cookies {
			param := &network.CookieParam{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Secure:   ck.Secure,
				HTTPOnly: ck.HTTPOnly,
			}
			if ck.SameSite != "" {
				param.SameSite = network.CookieSameSite(ck.SameSite)
			}
			if ck.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				param.Expires = &expires
			}
			params = append(params, param)
		}
		if err := storage.SetCookies(params).Do(ctx); err != nil {
			return fmt.Errorf("set cookies: %w", err)
		}
		return nil
	})
}
