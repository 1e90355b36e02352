package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const jsonlContentType = "application/x-ndjson"

// TradeArchiveStore lists trades older than a cutoff.
type TradeArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.TradeResult, error)
}

// DecisionArchiveStore lists decisions older than a cutoff.
type DecisionArchiveStore interface {
	ListBefore(ctx context.Context, before time.Time) ([]domain.DecisionRecord, error)
}

// AuditLogger records archive runs.
type AuditLogger interface {
	Log(ctx context.Context, event string, detail map[string]any) error
}

// Archiver implements domain.Archiver. It copies old rows to object storage
// and never deletes them from the primary store.
type Archiver struct {
	writer    domain.BlobWriter
	trades    TradeArchiveStore
	decisions DecisionArchiveStore
	audit     AuditLogger
}

func NewArchiver(writer domain.BlobWriter, trades TradeArchiveStore, decisions DecisionArchiveStore, audit AuditLogger) *Archiver {
	return &Archiver{writer: writer, trades: trades, decisions: decisions, audit: audit}
}

// ArchiveTrades uploads trades before the cutoff to
// archive/trades/<YYYY-MM>.jsonl and returns how many were written.
func (a *Archiver) ArchiveTrades(ctx context.Context, before time.Time) (int64, error) {
	trades, err := a.trades.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list trades: %w", err)
	}
	return archiveRecords(ctx, a, "trades", before, trades)
}

// ArchiveDecisions uploads decisions before the cutoff to
// archive/decisions/<YYYY-MM>.jsonl.
func (a *Archiver) ArchiveDecisions(ctx context.Context, before time.Time) (int64, error) {
	recs, err := a.decisions.ListBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: list decisions: %w", err)
	}
	return archiveRecords(ctx, a, "decisions", before, recs)
}

// ArchivePerformance uploads the snapshot to
// snapshots/performance/<YYYY-MM-DD>.json.
func (a *Archiver) ArchivePerformance(ctx context.Context, snap domain.PerformanceSnapshot, at time.Time) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("s3blob: marshal performance: %w", err)
	}
	path := "snapshots/performance/" + at.UTC().Format(time.DateOnly) + ".json"
	if err := a.writer.Put(ctx, path, bytes.NewReader(data), "application/json"); err != nil {
		return fmt.Errorf("s3blob: upload performance: %w", err)
	}
	return a.logAudit(ctx, "archive.performance", map[string]any{
		"path":      path,
		"total_pnl": snap.TotalRealizedPnL,
		"trades":    snap.TotalTrades,
	})
}

func archiveRecords[T any](ctx context.Context, a *Archiver, kind string, before time.Time, recs []T) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	buf, err := marshalJSONL(recs)
	if err != nil {
		return 0, fmt.Errorf("s3blob: marshal %s: %w", kind, err)
	}

	path := archivePath(kind, before)
	if int64(len(buf)) > MinPartSize {
		err = a.writer.PutMultipart(ctx, path, bytes.NewReader(buf), MinPartSize)
	} else {
		err = a.writer.Put(ctx, path, bytes.NewReader(buf), jsonlContentType)
	}
	if err != nil {
		return 0, fmt.Errorf("s3blob: upload %s: %w", kind, err)
	}

	count := int64(len(recs))
	return count, a.logAudit(ctx, "archive."+kind, map[string]any{
		"path":   path,
		"count":  count,
		"before": before.UTC().Format(time.RFC3339),
	})
}

func (a *Archiver) logAudit(ctx context.Context, event string, detail map[string]any) error {
	if a.audit == nil {
		return nil
	}
	if err := a.audit.Log(ctx, event, detail); err != nil {
		return fmt.Errorf("s3blob: audit %s: %w", event, err)
	}
	return nil
}

// archivePath partitions archives by the cutoff's month, e.g.
// archive/trades/2026-01.jsonl.
func archivePath(kind string, before time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, before.UTC().Format("2006-01"))
}

func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}

// PerformanceSource provides the current performance snapshot.
type PerformanceSource interface {
	Snapshot() domain.PerformanceSnapshot
}

// Scheduler runs an archive pass once a day.
type Scheduler struct {
	archiver domain.Archiver
	perf     PerformanceSource
	after    time.Duration
	every    time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewScheduler archives records older than after on every pass. perf may be
// nil.
func NewScheduler(archiver domain.Archiver, perf PerformanceSource, after time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		archiver: archiver,
		perf:     perf,
		after:    after,
		every:    24 * time.Hour,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// Run blocks until ctx is done. A failed pass is logged and retried on the
// next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.ErrorContext(ctx, "archive pass failed", slog.String("error", err.Error()))
			}
		}
	}
}

// RunOnce performs a single archive pass.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	now := s.now()
	cutoff := now.Add(-s.after)

	trades, err := s.archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return err
	}
	decisions, err := s.archiver.ArchiveDecisions(ctx, cutoff)
	if err != nil {
		return err
	}
	if s.perf != nil {
		if err := s.archiver.ArchivePerformance(ctx, s.perf.Snapshot(), now); err != nil {
			return err
		}
	}

	s.logger.InfoContext(ctx, "archive pass complete",
		slog.Int64("trades", trades),
		slog.Int64("decisions", decisions),
		slog.Time("cutoff", cutoff),
	)
	return nil
}
