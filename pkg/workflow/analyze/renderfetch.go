package analyze

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
)

var (
	scriptBlockPattern = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	htmlTagPattern     = regexp.MustCompile(`(?s)<[^>]*>`)
)

// looksScriptRendered reports whether an HTML body carries almost no
// text outside its markup -- the signature of a single-page-app shell
// whose real content only exists after its scripts run.
func looksScriptRendered(contentType, body string) bool {
	if !strings.Contains(contentType, "html") || !strings.Contains(body, "<script") {
		return false
	}
	visible := scriptBlockPattern.ReplaceAllString(body, " ")
	visible = htmlTagPattern.ReplaceAllString(visible, " ")
	return len(strings.TrimSpace(visible)) < 200
}

// fetchRenderedDoc loads url in headless Chrome and returns the
// document body's visible text.
func fetchRenderedDoc(ctx context.Context, url string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, timeoutCancel := context.WithTimeout(browserCtx, 30*time.Second)
	defer timeoutCancel()

	var text string
	if err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.Text("body", &text, chromedp.ByQuery),
	); err != nil {
		return "", fmt.Errorf("fetch-external-doc: render %s: %w", url, err)
	}
	return text, nil
}
