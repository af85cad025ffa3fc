package source

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/xaenox/riskwatch/internal/extractor"
)

const bindingName = "riskwatchChanged"

// Selectors locate the chat elements on the page.
type Selectors struct {
	Container string
	Message   string
	Sender    []string
	AIName    string
}

// DefaultSelectors match the Character.AI chat layout.
func DefaultSelectors() Selectors {
	return Selectors{
		Container: "#chat-messages",
		Message:   "div.group.relative.max-w-3xl.m-auto.w-full",
		Sender:    []string{`div[class^="text"]`, "div.text-small"},
		AIName:    `a[href*="/character/"] p.font-semi-bold`,
	}
}

type BrowserConfig struct {
	URL        string
	Headless   bool
	RetryDelay time.Duration
	Selectors  Selectors
}

// BrowserSource watches a chat page in a headless browser. Page mutations
// under the container are reported through a CDP binding.
type BrowserSource struct {
	cfg    BrowserConfig
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.Mutex
	out    chan struct{}
	closed bool
}

// NewBrowserSource starts a browser instance. Navigation happens on Changes.
func NewBrowserSource(cfg BrowserConfig, logger *zap.Logger) (*BrowserSource, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("browser source requires a chat URL")
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.Selectors.Container == "" {
		cfg.Selectors = DefaultSelectors()
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.Headless),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)

	sugar := logger.Sugar()
	ctx, cancelCtx := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(sugar.Debugf),
		chromedp.WithErrorf(sugar.Errorf),
	)

	return &BrowserSource{
		cfg:    cfg,
		ctx:    ctx,
		logger: logger,
		cancel: func() {
			cancelCtx()
			cancelAlloc()
		},
	}, nil
}

// Changes navigates to the chat, waits for the container and installs the
// mutation observer. The first signal is sent immediately.
func (b *BrowserSource) Changes(ctx context.Context) (<-chan struct{}, error) {
	b.mu.Lock()
	if b.out != nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("browser source already subscribed")
	}
	out := make(chan struct{}, 1)
	b.out = out
	b.mu.Unlock()

	chromedp.ListenTarget(b.ctx, func(ev interface{}) {
		if e, ok := ev.(*runtime.EventBindingCalled); ok && e.Name == bindingName {
			b.notify()
		}
	})

	if err := chromedp.Run(b.ctx,
		runtime.AddBinding(bindingName),
		chromedp.Navigate(b.cfg.URL),
	); err != nil {
		return nil, fmt.Errorf("failed to open chat page: %w", err)
	}

	if err := b.waitForContainer(ctx); err != nil {
		return nil, err
	}

	var installed bool
	if err := chromedp.Run(b.ctx, chromedp.Evaluate(observerScript(b.cfg.Selectors.Container), &installed)); err != nil {
		return nil, fmt.Errorf("failed to install observer: %w", err)
	}
	if !installed {
		return nil, fmt.Errorf("chat container %q disappeared", b.cfg.Selectors.Container)
	}
	b.logger.Info("Observing chat container",
		zap.String("url", b.cfg.URL),
		zap.String("container", b.cfg.Selectors.Container))

	b.notify()

	go func() {
		select {
		case <-ctx.Done():
		case <-b.ctx.Done():
		}
		b.closeOut()
	}()

	return out, nil
}

// waitForContainer polls until the chat container exists.
func (b *BrowserSource) waitForContainer(ctx context.Context) error {
	script := fmt.Sprintf("document.querySelector(%s) !== null", jsValue(b.cfg.Selectors.Container))
	for {
		var found bool
		if err := chromedp.Run(b.ctx, chromedp.Evaluate(script, &found)); err != nil {
			return fmt.Errorf("failed to query chat container: %w", err)
		}
		if found {
			return nil
		}

		b.logger.Debug("Chat container not found, retrying", zap.Duration("delay", b.cfg.RetryDelay))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.cfg.RetryDelay):
		}
	}
}

// Snapshot reads the page state.
func (b *BrowserSource) Snapshot(ctx context.Context) (extractor.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return extractor.Snapshot{}, err
	}
	var snap extractor.Snapshot
	if err := chromedp.Run(b.ctx, chromedp.Evaluate(snapshotScript(b.cfg.Selectors), &snap)); err != nil {
		return extractor.Snapshot{}, fmt.Errorf("failed to read chat page: %w", err)
	}
	return snap, nil
}

// Close shuts the browser down.
func (b *BrowserSource) Close() {
	b.cancel()
	b.closeOut()
}

func (b *BrowserSource) notify() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.out != nil && !b.closed {
		signal(b.out)
	}
}

func (b *BrowserSource) closeOut() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.out != nil && !b.closed {
		b.closed = true
		close(b.out)
	}
}

func observerScript(container string) string {
	return fmt.Sprintf(`(() => {
  const el = document.querySelector(%s);
  if (!el) return false;
  if (window.__riskwatchObserver) window.__riskwatchObserver.disconnect();
  const observer = new MutationObserver(() => window.%s(""));
  observer.observe(el, { childList: true, subtree: true });
  window.__riskwatchObserver = observer;
  return true;
})()`, jsValue(container), bindingName)
}

func snapshotScript(sel Selectors) string {
	return fmt.Sprintf(`(() => {
  const senders = %s;
  const aiName = document.querySelector(%s);
  const nodes = Array.from(document.querySelectorAll(%s)).map((el) => {
    let label = null;
    for (const s of senders) {
      label = el.querySelector(s);
      if (label) break;
    }
    return {
      sender: label ? label.textContent : "",
      paragraphs: Array.from(el.querySelectorAll("p")).map((p) => p.textContent || ""),
    };
  });
  return {
    url: window.location.href,
    aiName: aiName ? aiName.textContent.trim() : "",
    nodes,
  };
})()`, jsValue(sel.Sender), jsValue(sel.AIName), jsValue(sel.Message))
}

// jsValue renders v as a JavaScript literal.
func jsValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(b)
}
