package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// Archiver pages cold replication outcomes out of the primary store: rows
// older than the retention window are serialized to JSONL, uploaded to the
// bucket, and only then deleted. A failed upload leaves the rows in place
// for the next cycle.
type Archiver struct {
	writer    domain.BlobWriter
	outcomes  domain.OutcomeStore
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
}

// NewArchiver creates an Archiver. Zero retention defaults to 30 days, zero
// interval to 24 hours.
func NewArchiver(writer domain.BlobWriter, outcomes domain.OutcomeStore, retention, interval time.Duration, logger *slog.Logger) *Archiver {
	if retention <= 0 {
		retention = 30 * 24 * time.Hour
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &Archiver{
		writer:    writer,
		outcomes:  outcomes,
		retention: retention,
		interval:  interval,
		logger:    logger.With(slog.String("component", "archiver")),
	}
}

// Run archives on the configured interval until ctx is cancelled. Errors
// are logged, never fatal; the next cycle retries.
func (a *Archiver) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.ArchiveOutcomes(ctx, time.Now().UTC().Add(-a.retention)); err != nil {
				a.logger.ErrorContext(ctx, "archive cycle failed",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// ArchiveOutcomes uploads all outcomes observed before the cutoff as one
// JSONL object and deletes them from the store. It returns the number of
// archived rows.
func (a *Archiver) ArchiveOutcomes(ctx context.Context, before time.Time) (int64, error) {
	outcomes, err := a.outcomes.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes query: %w", err)
	}
	if len(outcomes) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(outcomes)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes marshal: %w", err)
	}

	path := archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive outcomes upload: %w", err)
	}

	deleted, err := a.outcomes.DeleteBefore(ctx, before)
	if err != nil {
		return int64(len(outcomes)), fmt.Errorf("s3blob: archive outcomes delete: %w", err)
	}

	a.logger.InfoContext(ctx, "outcomes archived",
		slog.String("path", path),
		slog.Int("archived", len(outcomes)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(outcomes)), nil
}

// archivePath builds the object key, partitioned by the cutoff's month with
// a timestamp suffix so repeated runs within a month never collide:
//
//	archive/outcomes/2025-08/20250831T120000Z.jsonl
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/outcomes/%s/%s.jsonl",
		before.Format("2006-01"),
		before.Format("20060102T150405Z"),
	)
}

// marshalJSONL serializes records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
