// Package collyextract implements a selector-driven Extractor on gocolly.
// It covers platforms whose product pages are plain server-rendered HTML;
// heavier platforms plug in their own implementations behind the same
// interface.
package collyextract

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"

	"github.com/pricesense/price-crawler/internal/core"
)

// Selectors names the CSS selectors for each product field on a platform.
// Empty selectors leave the field absent from the extraction.
type Selectors struct {
	Name          string
	Price         string
	OriginalPrice string
	DiscountRate  string
	StockStatus   string
	StockQuantity string
	PromotionInfo string
	ImageURL      string
	Rating        string
}

// Config controls collector behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	Selectors Selectors
}

// Extractor implements core.Extractor using the Colly collector.
type Extractor struct {
	cfg           Config
	baseCollector *colly.Collector
}

// New builds an Extractor.
func New(cfg Config) *Extractor {
	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = false
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Extractor{cfg: cfg, baseCollector: c}
}

var numericRe = regexp.MustCompile(`[\d.]+`)

// DefaultSelectors returns the baked-in selector set for the platforms we
// crawl out of the box. Unknown platforms get an empty set; pages then
// yield no fields and fail the confidence gate downstream.
func DefaultSelectors(platform core.Platform) Selectors {
	switch platform {
	case core.PlatformCoupang:
		return Selectors{
			Name:          "h1.prod-buy-header__title",
			Price:         "span.total-price > strong",
			OriginalPrice: "span.origin-price",
			DiscountRate:  "span.discount-rate",
			StockStatus:   "div.prod-not-find-known__buy__button, div.oos-label",
			PromotionInfo: "div.prod-coupon-download-content",
			ImageURL:      "img.prod-image__detail",
			Rating:        "span.rds-rating-score",
		}
	case core.PlatformNaverShopping:
		return Selectors{
			Name:         "h3._22kNQuEXmb",
			Price:        "span._1LY7DqCnwR",
			DiscountRate: "span._1G-IvlyANN",
			StockStatus:  "div._3XalszOQXt",
			ImageURL:     "img._25CKxIKjAk",
			Rating:       "strong._2pgHN-ntx6",
		}
	case core.PlatformSmartStore:
		return Selectors{
			Name:          "h3._copyable",
			Price:         "span._1LY7DqCnwR",
			DiscountRate:  "span.Xdhdpm0BD9",
			StockStatus:   "div._3ryHLfHhnl",
			PromotionInfo: "div._3AkcWthPlv",
			ImageURL:      "img.bd_2DO68",
			Rating:        "strong._2pgHN-ntx6",
		}
	default:
		return Selectors{}
	}
}

// Extract fetches the product page and pulls the configured fields.
// HTTP 404 maps to core.ErrNotFound; 403/429 and captcha interstitials map
// to core.ErrBlocked.
func (e *Extractor) Extract(ctx context.Context, url string) (core.RawExtraction, error) {
	var (
		raw      core.RawExtraction
		fetchErr error
		gotHTML  bool
	)

	collector := e.baseCollector.Clone()
	if e.cfg.UserAgent != "" {
		collector.UserAgent = e.cfg.UserAgent
	}
	collector.SetRequestTimeout(e.cfg.Timeout)
	collector.Context = ctx

	collector.OnError(func(resp *colly.Response, err error) {
		switch {
		case resp != nil && resp.StatusCode == http.StatusNotFound:
			fetchErr = fmt.Errorf("status %d: %w", resp.StatusCode, core.ErrNotFound)
		case resp != nil && (resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests):
			fetchErr = fmt.Errorf("status %d: %w", resp.StatusCode, core.ErrBlocked)
		case ctx.Err() != nil:
			fetchErr = fmt.Errorf("fetch aborted: %w", ctx.Err())
		default:
			fetchErr = fmt.Errorf("fetch %s: %w", url, err)
		}
	})

	collector.OnHTML("html", func(el *colly.HTMLElement) {
		gotHTML = true
		if looksBlocked(el) {
			fetchErr = fmt.Errorf("captcha interstitial: %w", core.ErrBlocked)
			return
		}
		e.fill(&raw, el)
	})

	if err := collector.Visit(url); err != nil {
		if fetchErr != nil {
			return core.RawExtraction{}, fetchErr
		}
		return core.RawExtraction{}, fmt.Errorf("visit %s: %w", url, err)
	}
	collector.Wait()

	if fetchErr != nil {
		return core.RawExtraction{}, fetchErr
	}
	if !gotHTML {
		return core.RawExtraction{}, fmt.Errorf("no html document at %s: %w", url, core.ErrParse)
	}
	return raw, nil
}

func (e *Extractor) fill(raw *core.RawExtraction, el *colly.HTMLElement) {
	sel := e.cfg.Selectors
	if s := text(el, sel.Name); s != "" {
		raw.Name = &s
	}
	if f, ok := number(text(el, sel.Price)); ok {
		raw.Price = &f
	}
	if f, ok := number(text(el, sel.OriginalPrice)); ok {
		raw.OriginalPrice = &f
	}
	if f, ok := number(text(el, sel.DiscountRate)); ok {
		raw.DiscountRate = &f
	}
	if s := text(el, sel.StockStatus); s != "" {
		raw.StockStatus = &s
	}
	if f, ok := number(text(el, sel.StockQuantity)); ok {
		n := int(f)
		raw.StockQuantity = &n
	}
	if s := text(el, sel.PromotionInfo); s != "" {
		raw.PromotionInfo = &s
	}
	if sel.ImageURL != "" {
		if src := el.ChildAttr(sel.ImageURL, "src"); src != "" {
			raw.ImageURL = &src
		}
	}
	if f, ok := number(text(el, sel.Rating)); ok {
		raw.Rating = &f
	}
}

func text(el *colly.HTMLElement, selector string) string {
	if selector == "" {
		return ""
	}
	return strings.TrimSpace(el.ChildText(selector))
}

func number(s string) (float64, bool) {
	if s == "" {
		return 0, false
	}
	m := numericRe.FindString(strings.ReplaceAll(s, ",", ""))
	if m == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func looksBlocked(el *colly.HTMLElement) bool {
	title := strings.ToLower(el.ChildText("title"))
	for _, marker := range []string{"captcha", "access denied", "robot check"} {
		if strings.Contains(title, marker) {
			return true
		}
	}
	return false
}
