// Package parser is the Parser worker: claims fetched documents from the
// dispatcher, decomposes them with internal/abc, persists the resulting
// tunebook/tune rows, and reports has_abc back per url.
package parser

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mark-vandenbroeck/abc-pipeline/internal/abc"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/dispatcherclient"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/metrics"
	"github.com/mark-vandenbroeck/abc-pipeline/internal/store"
)

// Worker runs the parser's claim loop.
type Worker struct {
	client  *dispatcherclient.Client
	store   *store.Store
	metrics *metrics.Registry
	idle    time.Duration
}

// New constructs a Worker. reg may be nil, in which case parses go
// unmeasured.
func New(client *dispatcherclient.Client, st *store.Store, reg *metrics.Registry, idle time.Duration) *Worker {
	return &Worker{client: client, store: st, metrics: reg, idle: idle}
}

// Run claims and processes batches until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		processed, err := w.runOnce(ctx)
		if err != nil {
			log.Error().Err(err).Msg("parser batch failed")
		}
		if processed == 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(w.idle):
			}
		}
	}
}

func (w *Worker) runOnce(ctx context.Context) (int, error) {
	urls, report, closeConn, err := w.client.GetFetchedBatch()
	if err != nil {
		return 0, err
	}
	if len(urls) == 0 {
		return 0, nil
	}
	defer closeConn()

	for _, u := range urls {
		hasABC := w.processOne(ctx, u.ID, u.URL)
		if err := report(dispatcherclient.ParsedResult{URLID: u.ID, HasABC: hasABC}); err != nil {
			log.Error().Err(err).Int64("url_id", u.ID).Msg("failed to report parsed result")
			return len(urls), err
		}
	}
	return len(urls), nil
}

// processOne decomposes one url's document and persists the resulting
// tunebook/tunes, returning the url's has_abc outcome.
func (w *Worker) processOne(ctx context.Context, urlID int64, rawURL string) bool {
	u, err := w.store.GetURL(ctx, urlID)
	if err != nil || u == nil || len(u.Document) == 0 {
		return false
	}

	content := string(u.Document)
	blocks := abc.SplitTunebook(content)
	if len(blocks) == 0 {
		return false
	}

	tunebookID, err := w.store.InsertTunebook(ctx, rawURL)
	if err != nil {
		log.Error().Err(err).Str("url", rawURL).Msg("failed to insert tunebook")
		return false
	}

	tunes := make([]store.Tune, 0, len(blocks))
	for _, block := range blocks {
		parsed := abc.ParseTune(block)
		tunes = append(tunes, toStoreTune(tunebookID, parsed))
		w.recordTuneOutcome(parsed)
	}

	if _, err := w.store.InsertTunesBatch(ctx, tunes); err != nil {
		log.Error().Err(err).Int64("tunebook_id", tunebookID).Msg("failed to insert tune batch")
		return false
	}
	return true
}

func (w *Worker) recordTuneOutcome(t abc.Tune) {
	if w.metrics == nil {
		return
	}
	if t.Skipped {
		reason := t.SkipReason
		if reason == "" {
			reason = "unknown"
		}
		w.metrics.TunesSkipped.WithLabelValues(reason).Inc()
		return
	}
	w.metrics.TunesParsed.Inc()
}

func toStoreTune(tunebookID int64, t abc.Tune) store.Tune {
	status := store.TuneStatusParsed
	skipReason := nullIfEmpty(t.SkipReason)
	if t.Skipped {
		status = store.TuneStatusSkipped
	}

	pitches := store.IntArray(t.Pitches)

	return store.Tune{
		TunebookID:     tunebookID,
		ReferenceNum:   nullIfEmpty(t.Metadata["reference_number"]),
		Title:          nullIfEmpty(t.Title),
		Composer:       nullIfEmpty(t.Metadata["composer"]),
		Origin:         nullIfEmpty(t.Metadata["origin"]),
		Area:           nullIfEmpty(t.Metadata["area"]),
		Meter:          nullIfEmpty(t.Metadata["meter"]),
		UnitNoteLength: nullIfEmpty(t.Metadata["unit_note_length"]),
		Tempo:          nullIfEmpty(t.Metadata["tempo"]),
		Parts:          nullIfEmpty(t.Metadata["parts"]),
		Transcription:  nullIfEmpty(t.Metadata["transcription"]),
		Notes:          nullIfEmpty(t.Metadata["notes"]),
		Group:          nullIfEmpty(t.Metadata["group"]),
		History:        nullIfEmpty(t.Metadata["history"]),
		Key:            nullIfEmpty(t.Metadata["key"]),
		Rhythm:         nullIfEmpty(t.Metadata["rhythm"]),
		Book:           nullIfEmpty(t.Metadata["book"]),
		Discography:    nullIfEmpty(t.Metadata["discography"]),
		Source:         nullIfEmpty(t.Metadata["source"]),
		Instruction:    nullIfEmpty(t.Metadata["instruction"]),
		TuneBody:       t.TuneBody,
		Pitches:        pitches,
		Status:         status,
		SkipReason:     skipReason,
	}
}
