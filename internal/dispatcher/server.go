package dispatcher

import (
	"bufio"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/hostregistry"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/metrics"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
)

// Config holds the dispatcher's claim/ack policy tunables.
type Config struct {
	DispatchTimeout  time.Duration
	ParsingTimeout   time.Duration
	HostCooldown     time.Duration
	MaxRetries       int
	CandidateWindow  int
	FetchedBatchSize int
}

// Server is the dispatcher's TCP listener and request handler.
type Server struct {
	store   *store.Store
	hosts   *hostregistry.Registry
	metrics *metrics.Registry
	cfg     Config
}

// New constructs a Server. Callers must call RecoverStale once before
// ListenAndServe to heal any claims left over from a previous process.
// reg may be nil, in which case claims go unmeasured.
func New(st *store.Store, hosts *hostregistry.Registry, reg *metrics.Registry, cfg Config) *Server {
	return &Server{store: st, hosts: hosts, metrics: reg, cfg: cfg}
}

// RecoverStale runs the startup sweep that resets urls left claimed by a
// previous process and re-enables timed-out hosts past their grace period.
func (s *Server) RecoverStale(ctx context.Context) error {
	n, err := s.store.ResetStaleURLs(ctx, s.cfg.DispatchTimeout)
	if err != nil {
		return fmt.Errorf("failed to recover stale urls: %w", err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("recovered stale urls on startup")
	}

	n, err = s.store.ResetStaleTunebooks(ctx, s.cfg.DispatchTimeout)
	if err != nil {
		return fmt.Errorf("failed to recover stale tunebooks: %w", err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("recovered stale tunebooks on startup")
	}

	n, err = s.hosts.AutoReenable(ctx)
	if err != nil {
		return fmt.Errorf("failed to re-enable timed-out hosts on startup: %w", err)
	}
	if n > 0 {
		log.Info().Int64("count", n).Msg("re-enabled timed-out hosts on startup")
	}
	return nil
}

// ListenAndServe accepts connections on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	lc := net.ListenConfig{}
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	log.Info().Str("addr", addr).Msg("dispatcher listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				log.Warn().Err(err).Msg("accept failed")
				continue
			}
		}
		go s.handleConn(ctx, conn)
	}
}

// handleConn processes one or more newline-delimited JSON requests on a
// connection, branching per action, including get_fetched_url's
// follow-up ack loop with the parser.
func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	reader := bufio.NewReader(conn)
	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	line, err := reader.ReadBytes('\n')
	if err != nil {
		return
	}

	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		conn.Write(marshal(Response{Status: StatusError, Message: "invalid request"}))
		return
	}

	switch req.Action {
	case ActionGetURL:
		s.handleGetURL(ctx, conn)
	case ActionSubmitResult:
		s.handleSubmitResult(ctx, conn, req)
	case ActionGetFetchedURL:
		s.handleGetFetchedURL(ctx, conn, reader)
	case ActionSubmitParsedResult:
		s.handleSubmitParsedResult(ctx, req)
		conn.Write([]byte("ack\n"))
	case ActionGetTunebook:
		s.handleGetTunebook(ctx, conn)
	case ActionSubmitIndexedResult:
		s.handleSubmitIndexedResult(ctx, conn, req)
	default:
		conn.Write(marshal(Response{Status: StatusError, Message: "unknown action"}))
	}
}

func (s *Server) handleGetURL(ctx context.Context, conn net.Conn) {
	timer := s.startClaim("fetch")
	result := "empty"
	defer func() { s.stopClaim(timer, result) }()

	candidates, err := s.store.CandidateURLs(ctx, s.cfg.DispatchTimeout, s.cfg.HostCooldown, s.cfg.MaxRetries, s.cfg.CandidateWindow)
	if err != nil {
		result = "error"
		log.Error().Err(err).Msg("candidate query failed")
		conn.Write(marshal(Response{Status: StatusError, Message: err.Error()}))
		return
	}

	for _, c := range candidates {
		ok, err := s.store.ClaimURL(ctx, c.ID)
		if err != nil {
			log.Error().Err(err).Int64("url_id", c.ID).Msg("claim failed")
			continue
		}
		if !ok {
			continue // lost the race to another worker; try the next candidate
		}
		if c.Host != "" {
			if err := s.hosts.RecordSuccess(ctx, c.Host, 0); err != nil {
				log.Warn().Err(err).Str("host", c.Host).Msg("could not reserve host on dispatch")
			}
		}
		result = "ok"
		conn.Write(marshal(Response{Status: StatusOK, URLID: c.ID, URL: c.URL, LinkDistance: c.LinkDistance}))
		return
	}
	conn.Write(marshal(Response{Status: StatusNoURLs}))
}

// startClaim begins a claim timer if a metrics registry is wired, and is
// a safe no-op otherwise.
func (s *Server) startClaim(action string) *metrics.ClaimTimer {
	if s.metrics == nil {
		return nil
	}
	return s.metrics.StartClaim(action)
}

func (s *Server) stopClaim(timer *metrics.ClaimTimer, result string) {
	if timer != nil {
		timer.Stop(result)
	}
}

// refreshHostsDisabledGauge re-reads the disabled-host count from the
// durable record after a disable/re-enable so the gauge never drifts
// from concurrent dispatcher processes' own writes.
func (s *Server) refreshHostsDisabledGauge(ctx context.Context) {
	if s.metrics == nil {
		return
	}
	n, err := s.store.CountDisabledHosts(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("could not refresh disabled hosts gauge")
		return
	}
	s.metrics.HostsDisabled.Set(float64(n))
}

func (s *Server) handleSubmitResult(ctx context.Context, conn net.Conn, req Request) {
	if req.URLID == 0 {
		conn.Write(marshal(Response{Status: StatusError, Message: "missing url_id"}))
		return
	}

	var document []byte
	if req.Document != "" {
		if d, err := base64.StdEncoding.DecodeString(req.Document); err == nil {
			document = d
		}
	}

	failed := req.HTTPStatus == nil || *req.HTTPStatus >= 400 || req.ErrorType != ""
	if !failed {
		if err := s.store.MarkFetched(ctx, req.URLID, req.SizeBytes, req.MimeType, document, *req.HTTPStatus); err != nil {
			log.Error().Err(err).Int64("url_id", req.URLID).Msg("mark fetched failed")
		}
		conn.Write(marshal(Response{Status: StatusOK}))
		s.touchHostForURL(ctx, req.URLID, req.HTTPStatus)
		return
	}

	outcome, err := s.store.MarkFetchFailed(ctx, req.URLID, req.HTTPStatus, s.cfg.MaxRetries)
	if err != nil {
		log.Error().Err(err).Int64("url_id", req.URLID).Msg("mark fetch failed")
		conn.Write(marshal(Response{Status: StatusError, Message: err.Error()}))
		return
	}
	conn.Write(marshal(Response{Status: StatusOK}))

	// Host disabling policy: a DNS failure disables immediately, since
	// re-resolution will not succeed on retry. A timeout only disables
	// once its url has exhausted retries, so a single slow response does
	// not take the whole host offline.
	u, err := s.store.GetURL(ctx, req.URLID)
	if err != nil || u == nil {
		return
	}
	switch {
	case req.ErrorType == store.DisableReasonDNS:
		if err := s.hosts.Disable(ctx, u.Host, store.DisableReasonDNS); err != nil {
			log.Warn().Err(err).Str("host", u.Host).Msg("could not disable host")
		}
		s.refreshHostsDisabledGauge(ctx)
	case req.ErrorType == store.DisableReasonTimeout && outcome.Terminal:
		if err := s.hosts.Disable(ctx, u.Host, store.DisableReasonTimeout); err != nil {
			log.Warn().Err(err).Str("host", u.Host).Msg("could not disable host")
		}
		s.refreshHostsDisabledGauge(ctx)
	default:
		s.touchHostForURL(ctx, req.URLID, req.HTTPStatus)
	}
}

func (s *Server) touchHostForURL(ctx context.Context, urlID int64, httpStatus *int) {
	u, err := s.store.GetURL(ctx, urlID)
	if err != nil || u == nil || u.Host == "" {
		return
	}
	status := 0
	if httpStatus != nil {
		status = *httpStatus
	}
	if err := s.hosts.RecordSuccess(ctx, u.Host, status); err != nil {
		log.Warn().Err(err).Str("host", u.Host).Msg("could not touch host")
	}
}

func (s *Server) handleGetFetchedURL(ctx context.Context, conn net.Conn, reader *bufio.Reader) {
	timer := s.startClaim("parse")
	result := "empty"
	defer func() { s.stopClaim(timer, result) }()

	urls, err := s.store.FetchedBatch(ctx, s.cfg.FetchedBatchSize, s.cfg.ParsingTimeout)
	if err != nil {
		result = "error"
		log.Error().Err(err).Msg("fetched batch query failed")
		conn.Write(marshal(Response{Status: StatusError, Message: err.Error()}))
		return
	}
	if len(urls) == 0 {
		conn.Write(marshal(Response{Status: StatusNoURLs}))
		return
	}
	result = "ok"

	entries := make([]FetchedURLEntry, len(urls))
	for i, u := range urls {
		entries[i] = FetchedURLEntry{ID: u.ID, URL: u.URL}
	}
	conn.Write(marshal(Response{Status: StatusOK, URLs: entries}))

	// Wait for one submit_parsed_result per url, acking each in turn.
	for processed := 0; processed < len(urls); processed++ {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		line, err := reader.ReadBytes('\n')
		if err != nil {
			return
		}
		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			continue
		}
		if req.Action != ActionSubmitParsedResult {
			continue
		}
		s.handleSubmitParsedResult(ctx, req)
		conn.Write([]byte("ack\n"))
	}
}

func (s *Server) handleSubmitParsedResult(ctx context.Context, req Request) {
	if req.URLID == 0 {
		return
	}
	if err := s.store.MarkParsed(ctx, req.URLID, req.HasABC); err != nil {
		log.Error().Err(err).Int64("url_id", req.URLID).Msg("mark parsed failed")
	}
}

func (s *Server) handleGetTunebook(ctx context.Context, conn net.Conn) {
	timer := s.startClaim("index")
	result := "empty"
	defer func() { s.stopClaim(timer, result) }()

	tb, err := s.store.ClaimNextTunebook(ctx, s.cfg.DispatchTimeout)
	if err != nil {
		result = "error"
		log.Error().Err(err).Msg("claim tunebook failed")
		conn.Write(marshal(Response{Status: StatusError, Message: err.Error()}))
		return
	}
	if tb == nil {
		conn.Write(marshal(Response{Status: StatusEmpty}))
		return
	}
	result = "ok"
	conn.Write(marshal(Response{Status: StatusOK, TunebookID: tb.ID}))
}

func (s *Server) handleSubmitIndexedResult(ctx context.Context, conn net.Conn, req Request) {
	if req.TunebookID == 0 {
		conn.Write(marshal(Response{Status: StatusError, Message: "missing tunebook_id"}))
		return
	}
	success := true
	if req.Success != nil {
		success = *req.Success
	}
	if err := s.store.MarkTunebookIndexed(ctx, req.TunebookID, success); err != nil {
		log.Error().Err(err).Int64("tunebook_id", req.TunebookID).Msg("mark tunebook indexed failed")
		conn.Write(marshal(Response{Status: StatusError, Message: err.Error()}))
		return
	}
	if success {
		tb, err := s.store.GetTunebook(ctx, req.TunebookID)
		if err == nil && tb != nil {
			if err := s.store.MarkURLIndexedByTunebookURL(ctx, tb.URL); err != nil {
				log.Warn().Err(err).Int64("tunebook_id", req.TunebookID).Msg("could not mark source url indexed")
			} else if s.metrics != nil {
				s.metrics.URLsIndexed.Inc()
			}
		}
	}
	conn.Write(marshal(Response{Status: StatusOK}))
}
