package fetcher

import (
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// robotsCache memoizes per-origin robots.txt rule sets. Absent or failed
// fetches resolve permissive rather than blocking the crawl.
type robotsCache struct {
	client *resty.Client
	ttl    time.Duration
	mu     sync.Mutex
	rules  map[string]*cachedRules
}

type cachedRules struct {
	rules     *robotsRules
	fetchedAt time.Time
}

type robotsRules struct {
	disallow []string
}

func newRobotsCache(timeout, ttl time.Duration) *robotsCache {
	return &robotsCache{
		client: resty.New().SetTimeout(timeout).SetHeader("User-Agent", "abc-pipeline-crawler/1.0"),
		ttl:    ttl,
		rules:  make(map[string]*cachedRules),
	}
}

// CanFetch reports whether rawURL may be fetched under the "*" user-agent
// group of its origin's robots.txt.
func (c *robotsCache) CanFetch(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	origin := u.Scheme + "://" + u.Host

	c.mu.Lock()
	entry, ok := c.rules[origin]
	c.mu.Unlock()
	if !ok || (c.ttl > 0 && time.Since(entry.fetchedAt) > c.ttl) {
		rules := c.fetchRules(origin)
		entry = &cachedRules{rules: rules, fetchedAt: time.Now()}
		c.mu.Lock()
		c.rules[origin] = entry
		c.mu.Unlock()
	}
	return entry.rules.allows(u.Path)
}

func (c *robotsCache) fetchRules(origin string) *robotsRules {
	resp, err := c.client.R().Get(origin + "/robots.txt")
	if err != nil || resp.StatusCode() != 200 {
		return &robotsRules{} // permissive: no disallow entries
	}
	return parseRobots(resp.String())
}

// parseRobots extracts Disallow entries from the "*" user-agent group, a
// minimal subset of the robots.txt grammar sufficient for crawl politeness.
func parseRobots(body string) *robotsRules {
	rules := &robotsRules{}
	inWildcardGroup := false
	sawAnyGroup := false

	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(line[:idx]))
		value := strings.TrimSpace(line[idx+1:])

		switch key {
		case "user-agent":
			sawAnyGroup = true
			inWildcardGroup = value == "*"
		case "disallow":
			if inWildcardGroup && value != "" {
				rules.disallow = append(rules.disallow, value)
			}
		}
	}
	if !sawAnyGroup {
		return &robotsRules{}
	}
	return rules
}

func (r *robotsRules) allows(path string) bool {
	for _, prefix := range r.disallow {
		if strings.HasPrefix(path, prefix) {
			return false
		}
	}
	return true
}
