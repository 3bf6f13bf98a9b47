// Package fetcher is the Fetcher worker: claims URLs from the
// dispatcher, respects per-host robots.txt and pacing, performs the HTTP
// GET, classifies the outcome, extracts links when appropriate, and
// reports the result back.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcherclient"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/metrics"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
)

// Error classifications reported to the dispatcher.
const (
	ErrorDNS        = "dns"
	ErrorTimeout    = "timeout"
	ErrorConnection = "connection"
	ErrorOther      = "other"
)

// dnsFailureLogFormat matches the dispatcher's background log scanner
// pattern ("Failed to resolve '([^']+)'"); changing one without the
// other breaks host auto-disabling.
const dnsFailureLogFormat = "Failed to resolve '%s'"

// Config holds the fetcher's tunable behavior.
type Config struct {
	RequestTimeout  time.Duration
	RobotsTimeout   time.Duration
	RobotsCacheTTL  time.Duration
	MaxLinkDistance int
	HostRPS         float64
	HostBurst       int
	BreakerFailures int
	BreakerTimeout  time.Duration
	UserAgent       string
}

// Worker runs the fetcher's claim loop.
type Worker struct {
	client     *dispatcherclient.Client
	store      *store.Store
	httpClient *http.Client
	robots     *robotsCache
	gate       *hostGate
	metrics    *metrics.Registry
	cfg        Config
}

// New constructs a Worker. reg may be nil, in which case fetches go
// unmeasured.
func New(client *dispatcherclient.Client, st *store.Store, reg *metrics.Registry, cfg Config) *Worker {
	if cfg.UserAgent == "" {
		cfg.UserAgent = "abc-pipeline-crawler/1.0"
	}
	return &Worker{
		client: client,
		store:  st,
		httpClient: &http.Client{
			Timeout: cfg.RequestTimeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		robots:  newRobotsCache(cfg.RobotsTimeout, cfg.RobotsCacheTTL),
		gate:    newHostGate(cfg.HostRPS, cfg.HostBurst, cfg.BreakerFailures, cfg.BreakerTimeout),
		metrics: reg,
		cfg:     cfg,
	}
}

// Run claims and fetches URLs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context, idle time.Duration) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		did, err := w.runOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("fetch cycle failed")
		}
		if !did {
			select {
			case <-ctx.Done():
				return
			case <-time.After(idle):
			}
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) (bool, error) {
	req, err := w.client.GetURL()
	if err != nil {
		return false, err
	}
	if req == nil {
		return false, nil
	}

	w.fetchOne(ctx, req.ID, req.URL, req.LinkDistance)
	return true, nil
}

func (w *Worker) fetchOne(ctx context.Context, urlID int64, rawURL string, linkDistance int) {
	host, err := store.HostFromURL(rawURL)
	if err != nil {
		w.submitFailure(urlID, nil, ErrorOther)
		return
	}

	if !w.robots.CanFetch(rawURL) {
		log.Info().Str("url", rawURL).Msg("blocked by robots.txt")
		w.submitFailure(urlID, nil, ErrorOther)
		return
	}

	if w.gate.Open(host) {
		w.recordFetchError(ErrorConnection)
		w.submitFailure(urlID, nil, ErrorConnection)
		return
	}
	if err := w.gate.limiterFor(host).Wait(ctx); err != nil {
		return
	}

	start := time.Now()
	outcome, err := w.gate.breakerFor(host).Execute(func() (any, error) {
		return w.doFetch(ctx, rawURL)
	})
	if err != nil {
		errType, status := classifyError(err)
		if errType == ErrorDNS {
			log.Error().Err(err).Str("url", rawURL).Msgf(dnsFailureLogFormat, host)
		}
		w.recordFetchDuration(host, "error", time.Since(start))
		w.recordFetchError(errType)
		w.submitFailure(urlID, status, errType)
		return
	}
	w.recordFetchDuration(host, "ok", time.Since(start))

	result := outcome.(fetchResult)
	w.handleSuccess(ctx, urlID, rawURL, linkDistance, result)
}

func (w *Worker) recordFetchDuration(host, result string, d time.Duration) {
	if w.metrics == nil {
		return
	}
	w.metrics.FetchDuration.WithLabelValues(host, result).Observe(d.Seconds())
}

func (w *Worker) recordFetchError(errType string) {
	if w.metrics == nil {
		return
	}
	w.metrics.FetchErrors.WithLabelValues(errType).Inc()
}

type fetchResult struct {
	status   int
	mimeType string
	body     []byte
}

func (w *Worker) doFetch(ctx context.Context, rawURL string) (fetchResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fetchResult{}, err
	}
	httpReq.Header.Set("User-Agent", w.cfg.UserAgent)

	resp, err := w.httpClient.Do(httpReq)
	if err != nil {
		return fetchResult{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return fetchResult{}, err
	}

	result := fetchResult{status: resp.StatusCode, mimeType: resp.Header.Get("Content-Type"), body: body}
	if resp.StatusCode >= 400 {
		return result, &httpStatusError{status: resp.StatusCode}
	}
	return result, nil
}

type httpStatusError struct{ status int }

func (e *httpStatusError) Error() string { return "http error" }

func (w *Worker) handleSuccess(ctx context.Context, urlID int64, rawURL string, linkDistance int, result fetchResult) {
	mime := baseMimeType(result.mimeType)
	allowed, err := w.mimeAllowed(ctx, mime)
	if err != nil {
		log.Warn().Err(err).Msg("mime type lookup failed")
	}

	var doc []byte
	if allowed {
		doc = result.body
	}

	status := result.status
	if err := w.client.SubmitResult(dispatcherclient.FetchOutcome{
		URLID:      urlID,
		SizeBytes:  int64(len(result.body)),
		MimeType:   mime,
		Document:   doc,
		HTTPStatus: &status,
	}); err != nil {
		log.Error().Err(err).Int64("url_id", urlID).Msg("failed to submit fetch result")
	}

	if allowed && mime == "text/html" && linkDistance < w.cfg.MaxLinkDistance {
		w.extractAndInsertLinks(ctx, rawURL, result.body, linkDistance)
	}
}

func (w *Worker) mimeAllowed(ctx context.Context, mime string) (bool, error) {
	patterns, err := w.store.ListEnabledMimeTypes(ctx)
	if err != nil {
		return false, err
	}
	for _, p := range patterns {
		if matchMimePattern(p.Pattern, mime) {
			return true, nil
		}
	}
	return false, nil
}

func matchMimePattern(pattern, mime string) bool {
	if !strings.Contains(pattern, "*") {
		return pattern == mime
	}
	re := "^" + regexp.QuoteMeta(pattern)
	re = strings.ReplaceAll(re, regexp.QuoteMeta("*"), ".*")
	matched, _ := regexp.MatchString(re, mime)
	return matched
}

func baseMimeType(contentType string) string {
	if contentType == "" {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0])
}

func (w *Worker) extractAndInsertLinks(ctx context.Context, baseURL string, body []byte, linkDistance int) {
	refused, err := w.store.ListRefusedExtensions(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not load refused extensions")
	}
	refusedSet := make(map[string]bool, len(refused))
	for _, r := range refused {
		refusedSet[r.Extension] = true
	}

	links := ExtractLinks(bytes.NewReader(body), baseURL)
	added := 0
	for _, link := range links {
		if refusedSet[store.ExtensionFromURL(link)] {
			continue
		}
		id, err := w.store.InsertURL(ctx, link, linkDistance+1)
		if err != nil {
			continue
		}
		if id != 0 {
			added++
		}
	}
	if added > 0 {
		log.Debug().Str("url", baseURL).Int("added", added).Msg("extracted links")
	}
}

func (w *Worker) submitFailure(urlID int64, httpStatus *int, errType string) {
	if err := w.client.SubmitResult(dispatcherclient.FetchOutcome{
		URLID:      urlID,
		HTTPStatus: httpStatus,
		ErrorType:  errType,
	}); err != nil {
		log.Error().Err(err).Int64("url_id", urlID).Msg("failed to submit fetch failure")
	}
}

func classifyError(err error) (string, *int) {
	var statusErr *httpStatusError
	if errors.As(err, &statusErr) {
		s := statusErr.status
		return "", &s
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrorDNS, nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrorTimeout, nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout, nil
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ErrorConnection, nil
	}

	return ErrorOther, nil
}
