package scraper

import (
	"context"
	neturl "net/url"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog"

	"reviewlens/internal/domain"
)

// Config controls the browser session.
type Config struct {
	Headless   bool
	Timeout    time.Duration
	NavTimeout time.Duration
	MaxReviews int
	YearLimit  int
}

// Scraper drives a headless Chrome against a Google Maps place page and
// extracts the visible reviews. The page is rendered client-side, so the
// whole flow is: open the page, switch to the Reviews tab, scroll the feed
// until it stops growing, expand truncated texts, then read the DOM once.
type Scraper struct {
	cfg Config
	log zerolog.Logger
	now func() time.Time
}

func New(cfg Config, log zerolog.Logger) *Scraper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.NavTimeout <= 0 {
		cfg.NavTimeout = 30 * time.Second
	}
	if cfg.MaxReviews <= 0 {
		cfg.MaxReviews = 100
	}
	return &Scraper{cfg: cfg, log: log, now: time.Now}
}

const (
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

	scrollPause  = 1200 * time.Millisecond
	maxScrolls   = 120
	maxStalls    = 3
	extractGrace = 10 * time.Second
)

// Scrape opens url and returns the business header plus every review that
// survives the rating, recency and count cutoffs. Reviews collected before
// a timeout are returned rather than discarded.
func (s *Scraper) Scrape(ctx context.Context, url string) (domain.BusinessInfo, []domain.Review, error) {
	var info domain.BusinessInfo

	u, err := neturl.Parse(url)
	if err != nil || !u.IsAbs() || u.Host == "" {
		return info, nil, domain.Ef(domain.KindScrape, "invalid business url %q", url)
	}
	url = ensureEnglish(u)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", s.cfg.Headless),
		chromedp.Flag("lang", "en-US"),
		chromedp.Flag("accept-lang", "en-US,en"),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1400, 1600),
		chromedp.UserAgent(userAgent),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancelRun := context.WithTimeout(browserCtx, s.cfg.Timeout)
	defer cancelRun()

	s.log.Info().Str("url", url).Bool("headless", s.cfg.Headless).Msg("opening business page")
	if err := s.open(runCtx, url); err != nil {
		return info, nil, domain.E(domain.KindScrape, "open business page", err)
	}

	var header rawBusiness
	if err := s.eval(runCtx, businessInfoJS, &header); err != nil {
		return info, nil, domain.E(domain.KindScrape, "read business header", err)
	}
	info = parseBusinessInfo(header, url)
	s.log.Info().Str("business", info.Name).Float64("rating", info.Rating).
		Int("review_count", info.ReviewCount).Msg("business page loaded")

	if err := s.openReviews(runCtx); err != nil {
		return info, nil, err
	}
	sortedNewest := s.sortByNewest(runCtx)

	// Keep a slice of the budget for expansion and extraction so a slow
	// feed cannot eat the whole timeout before we read anything.
	scrollBudget := s.cfg.Timeout - extractGrace
	if scrollBudget < 5*time.Second {
		scrollBudget = 5 * time.Second
	}
	scrollCtx, cancelScroll := context.WithTimeout(runCtx, scrollBudget)
	s.scrollFeed(scrollCtx, sortedNewest)
	cancelScroll()

	s.expandTruncated(runCtx)

	var raws []rawReview
	if err := s.eval(runCtx, extractReviewsJS, &raws); err != nil {
		return info, nil, domain.E(domain.KindScrape, "extract reviews", err)
	}
	if len(raws) == 0 {
		return info, nil, domain.E(domain.KindScrape, "no reviews found on page", domain.ErrNoReviews)
	}

	reviews := parseReviews(raws, info.Name, s.now(), s.cfg.YearLimit, s.cfg.MaxReviews)
	s.log.Info().Int("extracted", len(raws)).Int("kept", len(reviews)).Msg("reviews parsed")
	if len(reviews) == 0 {
		return info, nil, domain.E(domain.KindScrape, "no reviews within configured limits", domain.ErrNoReviews)
	}
	return info, reviews, nil
}

// open navigates to the place page, dismisses the consent wall when one
// shows up, and waits for the header to render.
func (s *Scraper) open(ctx context.Context, url string) error {
	if err := chromedp.Run(ctx,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
	); err != nil {
		return err
	}

	var accepted bool
	if err := s.eval(ctx, consentJS, &accepted); err == nil && accepted {
		s.log.Debug().Msg("consent dialog dismissed")
		_ = chromedp.Run(ctx, chromedp.Sleep(1500*time.Millisecond))
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	return chromedp.Run(waitCtx, chromedp.WaitVisible("h1", chromedp.ByQuery))
}

// openReviews switches the place page to its Reviews tab. Some share links
// land on the tab already; a missing tab button is only fatal when no feed
// shows up afterwards.
func (s *Scraper) openReviews(ctx context.Context) error {
	var clicked bool
	if err := s.eval(ctx, openReviewsTabJS, &clicked); err != nil {
		return domain.E(domain.KindScrape, "open reviews tab", err)
	}
	if clicked {
		_ = chromedp.Run(ctx, chromedp.Sleep(1500*time.Millisecond))
	}

	waitCtx, cancel := context.WithTimeout(ctx, s.cfg.NavTimeout)
	defer cancel()
	if err := chromedp.Run(waitCtx, chromedp.WaitVisible(`div[role="feed"]`, chromedp.ByQuery)); err != nil {
		var n int
		if evalErr := s.eval(ctx, countReviewsJS, &n); evalErr == nil && n > 0 {
			return nil
		}
		return domain.E(domain.KindScrape, "reviews feed did not load", err)
	}
	return nil
}

// sortByNewest is best-effort: the sort menu moves around in Maps markup,
// and relevance order still yields usable data. Reports whether newest-first
// order was applied, which enables the early stop on old reviews.
func (s *Scraper) sortByNewest(ctx context.Context) bool {
	var opened bool
	if err := s.eval(ctx, openSortMenuJS, &opened); err != nil || !opened {
		return false
	}
	_ = chromedp.Run(ctx, chromedp.Sleep(600*time.Millisecond))

	var picked bool
	if err := s.eval(ctx, pickNewestJS, &picked); err != nil || !picked {
		return false
	}
	_ = chromedp.Run(ctx, chromedp.Sleep(1200*time.Millisecond))
	s.log.Debug().Msg("reviews sorted by newest")
	return true
}

// scrollFeed scrolls the reviews feed until it has enough blocks, stops
// growing, or the budget runs out. With newest-first order it also stops as
// soon as the tail is older than the recency cutoff, since everything below
// can only be older.
func (s *Scraper) scrollFeed(ctx context.Context, sortedNewest bool) {
	var cutoff time.Time
	if s.cfg.YearLimit > 0 {
		cutoff = s.now().AddDate(-s.cfg.YearLimit, 0, 0)
	}

	stall := 0
	last := 0
	for i := 0; i < maxScrolls; i++ {
		if ctx.Err() != nil {
			s.log.Warn().Int("loaded", last).Msg("scroll budget exhausted, keeping partial feed")
			return
		}

		var count int
		if err := s.eval(ctx, countReviewsJS, &count); err != nil {
			return
		}
		if count >= s.cfg.MaxReviews {
			s.log.Debug().Int("loaded", count).Msg("review limit reached")
			return
		}
		if sortedNewest && !cutoff.IsZero() && count > 0 {
			var when string
			if err := s.eval(ctx, lastReviewDateJS, &when); err == nil {
				if d, ok := resolveRelativeDate(when, s.now()); ok && d.Before(cutoff) {
					s.log.Debug().Int("loaded", count).Str("oldest", when).Msg("reached recency cutoff")
					return
				}
			}
		}

		var scrolled bool
		if err := s.eval(ctx, scrollFeedJS, &scrolled); err != nil {
			return
		}
		if err := chromedp.Run(ctx, chromedp.Sleep(scrollPause)); err != nil {
			return
		}

		if err := s.eval(ctx, countReviewsJS, &count); err != nil {
			return
		}
		if count == last {
			stall++
			if stall >= maxStalls {
				s.log.Debug().Int("loaded", count).Msg("feed stopped growing")
				return
			}
		} else {
			stall = 0
		}
		last = count
	}
}

// expandTruncated clicks every "More" button so long reviews are extracted
// in full rather than at the fold.
func (s *Scraper) expandTruncated(ctx context.Context) {
	var n int
	if err := s.eval(ctx, expandMoreJS, &n); err != nil || n == 0 {
		return
	}
	s.log.Debug().Int("expanded", n).Msg("truncated reviews expanded")
	_ = chromedp.Run(ctx, chromedp.Sleep(600*time.Millisecond))
}

func (s *Scraper) eval(ctx context.Context, js string, out any) error {
	return chromedp.Run(ctx, chromedp.Evaluate(js, out))
}

// ensureEnglish pins the interface language so date texts stay parseable.
func ensureEnglish(u *neturl.URL) string {
	q := u.Query()
	if q.Get("hl") == "" {
		q.Set("hl", "en")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
