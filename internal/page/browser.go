package page

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/ayusman/palmscroll/internal/action"
)

const indicatorScript = `([text, ms]) => {
  const old = document.getElementById("palmscroll-indicator");
  if (old) old.remove();
  const el = document.createElement("div");
  el.id = "palmscroll-indicator";
  el.textContent = text;
  Object.assign(el.style, {
    position: "fixed", top: "20px", right: "350px", zIndex: "2147483647",
    background: "rgba(0, 255, 0, 0.7)", color: "white", padding: "12px 20px",
    borderRadius: "8px", fontSize: "16px", fontWeight: "bold",
    transition: "opacity 0.3s", boxShadow: "0 2px 8px rgba(0,0,0,0.2)",
  });
  document.body.appendChild(el);
  setTimeout(() => { el.style.opacity = "0"; setTimeout(() => el.remove(), 300); }, ms);
}`

// BrowserPage applies effects to a playwright page.
type BrowserPage struct {
	page playwright.Page
}

// NewBrowserPage wraps p.
func NewBrowserPage(p playwright.Page) *BrowserPage {
	return &BrowserPage{page: p}
}

func (b *BrowserPage) eval(ctx context.Context, expr string, arg any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if arg == nil {
		return b.page.Evaluate(expr)
	}
	return b.page.Evaluate(expr, arg)
}

// ViewportHeight returns window.innerHeight.
func (b *BrowserPage) ViewportHeight(ctx context.Context) (float64, error) {
	v, err := b.eval(ctx, "() => window.innerHeight", nil)
	if err != nil {
		return 0, err
	}
	switch n := v.(type) {
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case float64:
		return n, nil
	}
	return 0, fmt.Errorf("unexpected innerHeight %T", v)
}

// ScrollTo smooth-scrolls to the top or bottom of the document.
func (b *BrowserPage) ScrollTo(ctx context.Context, pos action.Position) error {
	_, err := b.eval(ctx, `(pos) => window.scrollTo({
  top: pos === "top" ? 0 : document.body.scrollHeight,
  behavior: "smooth",
})`, string(pos))
	return err
}

// ScrollBy smooth-scrolls by dy pixels.
func (b *BrowserPage) ScrollBy(ctx context.Context, dy float64) error {
	_, err := b.eval(ctx, `(dy) => window.scrollBy({ top: dy, behavior: "smooth" })`, dy)
	return err
}

// ShowIndicator replaces any visible indicator with text for d.
func (b *BrowserPage) ShowIndicator(ctx context.Context, text string, d time.Duration) error {
	_, err := b.eval(ctx, indicatorScript, []any{text, d.Milliseconds()})
	return err
}

// HideIndicator removes the indicator.
func (b *BrowserPage) HideIndicator(ctx context.Context) error {
	_, err := b.eval(ctx, `() => document.getElementById("palmscroll-indicator")?.remove()`, nil)
	return err
}

// BrowserOptions configures LaunchBrowser.
type BrowserOptions struct {
	URL      string
	Headless bool
	Width    int
	Height   int
	// Install downloads the playwright driver and Chromium if missing.
	Install bool
}

// Browser is a Chromium instance with one tab.
type Browser struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
}

// LaunchBrowser starts Chromium and opens opts.URL.
func LaunchBrowser(opts BrowserOptions) (*Browser, error) {
	runOpts := &playwright.RunOptions{
		Browsers: []string{"chromium"},
		Verbose:  false,
		Stdout:   io.Discard,
		Stderr:   io.Discard,
	}
	if opts.Install {
		if err := playwright.Install(runOpts); err != nil {
			return nil, fmt.Errorf("install playwright: %w", err)
		}
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("launch chromium: %w", err)
	}

	width, height := opts.Width, opts.Height
	if width <= 0 || height <= 0 {
		width, height = 1280, 800
	}
	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{Width: width, Height: height},
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("create browser context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("open page: %w", err)
	}

	b := &Browser{pw: pw, browser: browser, page: page}
	if opts.URL != "" {
		if _, err := page.Goto(opts.URL); err != nil {
			b.Close()
			return nil, fmt.Errorf("navigate to %s: %w", opts.URL, err)
		}
	}
	return b, nil
}

// Page returns the tab as an action.Page.
func (b *Browser) Page() *BrowserPage {
	return NewBrowserPage(b.page)
}

// Close shuts the browser and the playwright driver down.
func (b *Browser) Close() error {
	return errors.Join(b.browser.Close(), b.pw.Stop())
}
