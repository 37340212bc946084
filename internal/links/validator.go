// Package links filters and verifies candidate source URLs before they are
// embedded in generation prompts.
package links

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/postloom/postloom-backend/internal/platform/logger"
)

// Candidate is an unverified URL discovered from prior results or web search.
type Candidate struct {
	URL   string `json:"url"`
	Title string `json:"title,omitempty"`
}

// Source is a verified, classified candidate.
type Source struct {
	URL      string `json:"url"`
	Title    string `json:"title,omitempty"`
	Internal bool   `json:"internal"`
}

// Result partitions the surviving sources. All preserves input order.
type Result struct {
	All      []Source
	Internal []Source
	External []Source
}

// Non-content utility domains that never make useful sources. Subdomains are
// excluded too.
var blockedDomains = []string{
	"support.google.com",
	"accounts.google.com",
	"policies.google.com",
	"google.com",
	"facebook.com",
	"instagram.com",
	"twitter.com",
	"x.com",
	"linkedin.com",
	"youtube.com",
	"pinterest.com",
	"tiktok.com",
}

const (
	checkTimeout = 5 * time.Second
	batchSize    = 5
	cacheTTL     = 15 * time.Minute
	cachePrefix  = "links:reachable:"
)

type Validator struct {
	client *http.Client
	cache  *redis.Client
	log    *logger.Logger
}

// NewValidator builds a validator with a 5-second per-request timeout. cache
// may be nil; reachability results are then not memoized.
func NewValidator(baseLog *logger.Logger, cache *redis.Client) *Validator {
	return &Validator{
		client: &http.Client{Timeout: checkTimeout},
		cache:  cache,
		log:    baseLog.With("component", "LinkValidator"),
	}
}

// Validate filters candidates through the domain blocklist, verifies
// reachability with HEAD requests in strictly sequential batches of five, and
// classifies survivors against the account's domains. Unreachable or blocked
// links are dropped silently.
func (v *Validator) Validate(ctx context.Context, candidates []Candidate, accountDomains []string) (*Result, error) {
	seen := make(map[string]bool, len(candidates))
	var allowed []Candidate
	for _, c := range candidates {
		u := strings.TrimSpace(c.URL)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		if isBlocked(u) {
			continue
		}
		allowed = append(allowed, Candidate{URL: u, Title: c.Title})
	}

	reachable := make([]bool, len(allowed))
	for start := 0; start < len(allowed); start += batchSize {
		end := start + batchSize
		if end > len(allowed) {
			end = len(allowed)
		}
		g, gctx := errgroup.WithContext(ctx)
		for i := start; i < end; i++ {
			i := i
			g.Go(func() error {
				reachable[i] = v.isReachable(gctx, allowed[i].URL)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	normalized := normalizeDomains(accountDomains)
	res := &Result{}
	for i, c := range allowed {
		if !reachable[i] {
			continue
		}
		src := Source{URL: c.URL, Title: c.Title, Internal: isInternal(c.URL, normalized)}
		res.All = append(res.All, src)
		if src.Internal {
			res.Internal = append(res.Internal, src)
		} else {
			res.External = append(res.External, src)
		}
	}

	v.log.Info("validated source links",
		"candidates", len(candidates),
		"surviving", len(res.All),
		"internal", len(res.Internal),
		"external", len(res.External))
	return res, nil
}

func isBlocked(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return true
	}
	for _, d := range blockedDomains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}

// isReachable issues a HEAD request and requires exactly 200. Failures are
// final; a link is never re-checked within a validation pass.
func (v *Validator) isReachable(ctx context.Context, rawURL string) bool {
	if cached, ok := v.cachedReachability(ctx, rawURL); ok {
		return cached
	}

	reqCtx, cancel := context.WithTimeout(ctx, checkTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, rawURL, nil)
	if err != nil {
		return false
	}
	resp, err := v.client.Do(req)
	if err != nil {
		v.storeReachability(ctx, rawURL, false)
		return false
	}
	defer resp.Body.Close()

	ok := resp.StatusCode == http.StatusOK
	v.storeReachability(ctx, rawURL, ok)
	return ok
}

func (v *Validator) cachedReachability(ctx context.Context, rawURL string) (reachable, found bool) {
	if v.cache == nil {
		return false, false
	}
	val, err := v.cache.Get(ctx, cachePrefix+rawURL).Result()
	if err != nil {
		return false, false
	}
	return val == "1", true
}

func (v *Validator) storeReachability(ctx context.Context, rawURL string, reachable bool) {
	if v.cache == nil {
		return
	}
	val := "0"
	if reachable {
		val = "1"
	}
	if err := v.cache.Set(ctx, cachePrefix+rawURL, val, cacheTTL).Err(); err != nil {
		v.log.Debug("failed to cache link reachability", "url", rawURL, "error", err)
	}
}

// normalizeDomains strips schemes, www. prefixes and paths from the
// account's configured domains.
func normalizeDomains(domains []string) []string {
	out := make([]string, 0, len(domains))
	for _, d := range domains {
		d = strings.TrimSpace(strings.ToLower(d))
		if d == "" {
			continue
		}
		if strings.Contains(d, "://") {
			if u, err := url.Parse(d); err == nil && u.Hostname() != "" {
				d = u.Hostname()
			}
		}
		if idx := strings.IndexAny(d, "/?#"); idx >= 0 {
			d = d[:idx]
		}
		d = strings.TrimPrefix(d, "www.")
		if d != "" {
			out = append(out, d)
		}
	}
	return out
}

func isInternal(rawURL string, domains []string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, d := range domains {
		if host == d || strings.HasSuffix(host, "."+d) {
			return true
		}
	}
	return false
}
