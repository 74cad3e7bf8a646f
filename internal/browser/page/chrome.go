// internal/browser/page/chrome.go
package page

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/surveyfill/internal/apperr"
	"github.com/xkilldash9x/surveyfill/internal/browser/dom"
	"github.com/xkilldash9x/surveyfill/internal/config"
)

// jsElementOp finds the element by XPath and applies one operation to it. It returns false
// when the element is gone.
const jsElementOp = `(function(xpath, op, a, b) {
	const el = document.evaluate(xpath, document, null, XPathResult.FIRST_ORDERED_NODE_TYPE, null).singleNodeValue;
	if (!el) return false;
	switch (op) {
	case "attr":
		el.setAttribute(a, b);
		break;
	case "value":
		el.value = a;
		break;
	case "checked":
		el.checked = (a === "true");
		break;
	case "text":
		el.textContent = a;
		break;
	case "dispatch":
		el.dispatchEvent(new Event(a, { bubbles: true }));
		break;
	default:
		return false;
	}
	return true;
})(%s, %s, %s, %s)`

// Chrome is a Primitives backend driving a live Chromium tab through chromedp.
type Chrome struct {
	tabCtx context.Context
	logger *zap.Logger
}

var _ Primitives = (*Chrome)(nil)

// NewChrome wraps a chromedp tab context.
func NewChrome(tabCtx context.Context, logger *zap.Logger) *Chrome {
	return &Chrome{tabCtx: tabCtx, logger: logger.Named("chrome_page")}
}

// LaunchChrome starts a browser according to cfg and opens one tab. The returned cancel func
// closes the tab and the browser.
func LaunchChrome(ctx context.Context, cfg config.BrowserConfig, logger *zap.Logger) (*Chrome, context.CancelFunc, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
		chromedp.Flag("disable-extensions", true),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)

	cancel := func() {
		cancelTab()
		cancelAlloc()
	}
	// The first Run starts the browser.
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, nil, fmt.Errorf("failed to start browser: %w", err)
	}
	return NewChrome(tabCtx, logger), cancel, nil
}

// run executes actions on the tab while honouring cancellation of the operational ctx.
func (c *Chrome) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx, cancel := context.WithCancel(c.tabCtx)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(runCtx, actions...); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

// Navigate loads url and waits for the body to be ready.
func (c *Chrome) Navigate(ctx context.Context, url string, timeout time.Duration) error {
	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	c.logger.Debug("Navigating", zap.String("url", url))
	if err := c.run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded {
			return &apperr.TimeoutError{Op: "navigate " + url, Budget: timeout, Err: err}
		}
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

func (c *Chrome) URL(ctx context.Context) (string, error) {
	var loc string
	if err := c.run(ctx, chromedp.Location(&loc)); err != nil {
		return "", fmt.Errorf("failed to read location: %w", err)
	}
	return loc, nil
}

func (c *Chrome) Snapshot(ctx context.Context) (*dom.Document, error) {
	var markup string
	if err := c.run(ctx, chromedp.OuterHTML("html", &markup, chromedp.ByQuery)); err != nil {
		return nil, fmt.Errorf("failed to capture DOM snapshot: %w", err)
	}
	return dom.ParseString(markup)
}

func (c *Chrome) elementOp(ctx context.Context, xpath, op, a, b string) error {
	script := fmt.Sprintf(jsElementOp, jsonEncode(xpath), jsonEncode(op), jsonEncode(a), jsonEncode(b))

	var ok bool
	err := c.run(ctx, chromedp.Evaluate(script, &ok, func(p *runtime.EvaluateParams) *runtime.EvaluateParams {
		return p.WithReturnByValue(true).WithSilent(true)
	}))
	if err != nil {
		return fmt.Errorf("page operation %s failed: %w", op, err)
	}
	if !ok {
		return apperr.NewNotFoundError("element", xpath)
	}
	return nil
}

func (c *Chrome) SetAttribute(ctx context.Context, xpath, name, value string) error {
	return c.elementOp(ctx, xpath, "attr", name, value)
}

func (c *Chrome) SetValue(ctx context.Context, xpath, value string) error {
	return c.elementOp(ctx, xpath, "value", value, "")
}

func (c *Chrome) SetChecked(ctx context.Context, xpath string, checked bool) error {
	return c.elementOp(ctx, xpath, "checked", fmt.Sprint(checked), "")
}

func (c *Chrome) SetText(ctx context.Context, xpath, text string) error {
	return c.elementOp(ctx, xpath, "text", text, "")
}

func (c *Chrome) Dispatch(ctx context.Context, xpath string, events ...string) error {
	for _, e := range events {
		if err := c.elementOp(ctx, xpath, "dispatch", e, ""); err != nil {
			return err
		}
	}
	return nil
}

func jsonEncode(v interface{}) string {
	b, err := jsoniter.ConfigCompatibleWithStandardLibrary.Marshal(v)
	if err != nil {
		return `""`
	}
	return string(b)
}
