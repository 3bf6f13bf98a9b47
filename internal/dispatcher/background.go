package dispatcher

import (
	"bufio"
	"context"
	"io"
	"os"
	"regexp"
	"time"

	"github.com/rs/zerolog/log"
)

var dnsFailurePattern = regexp.MustCompile(`Failed to resolve '([^']+)'`)

// RunLogScanner periodically tails logPath for fetcher DNS-resolution
// failures and disables the offending hosts. It tracks its own read
// offset and resets it if the file shrinks (log rotation).
func (s *Server) RunLogScanner(ctx context.Context, logPath string, interval time.Duration) {
	var pos int64

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pos = s.scanLogOnce(ctx, logPath, pos)
		}
	}
}

func (s *Server) scanLogOnce(ctx context.Context, logPath string, pos int64) int64 {
	f, err := os.Open(logPath)
	if err != nil {
		return pos // log file may not exist yet; try again next tick
	}
	defer f.Close()

	if info, err := f.Stat(); err == nil && info.Size() < pos {
		pos = 0 // rotated
	}
	if _, err := f.Seek(pos, io.SeekStart); err != nil {
		return pos
	}

	seen := map[string]bool{}
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		for _, m := range dnsFailurePattern.FindAllStringSubmatch(scanner.Text(), -1) {
			seen[m[1]] = true
		}
	}

	newPos, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		newPos = pos
	}

	for host := range seen {
		if err := s.hosts.Disable(ctx, host, "dns"); err != nil {
			log.Warn().Err(err).Str("host", host).Msg("log scanner could not disable host")
		}
	}
	if len(seen) > 0 {
		log.Info().Int("count", len(seen)).Msg("log scanner marked hosts disabled (dns)")
		s.refreshHostsDisabledGauge(ctx)
	}
	return newPos
}

// RunHostReenabler periodically clears timeout-disables past their grace
// period.
func (s *Server) RunHostReenabler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.hosts.AutoReenable(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("auto-reenable sweep failed")
				continue
			}
			if n > 0 {
				log.Info().Int64("count", n).Msg("re-enabled hosts previously disabled for timeout")
				s.refreshHostsDisabledGauge(ctx)
			}
		}
	}
}
