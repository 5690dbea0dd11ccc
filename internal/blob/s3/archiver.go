package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alphadeck/stockpilot/internal/domain"
)

// Archiver exports end-of-day artifacts as objects:
//
//	snapshots/{strategy}/{date}.json   capital snapshot
//	trades/{strategy}/{date}.jsonl     closed trades, one JSON object per line
type Archiver struct {
	writer *Writer
	logger *slog.Logger
}

// NewArchiver creates an Archiver uploading through the given client.
func NewArchiver(c *Client, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: NewWriter(c),
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveSnapshot uploads one strategy's daily capital snapshot.
func (a *Archiver) ArchiveSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("s3blob: marshal snapshot: %w", err)
	}

	key := fmt.Sprintf("snapshots/%s/%s.json", snap.Strategy, snap.Date.Format("2006-01-02"))
	if err := a.writer.Put(ctx, key, bytes.NewReader(payload), "application/json"); err != nil {
		return err
	}

	a.logger.InfoContext(ctx, "snapshot archived", slog.String("key", key))
	return nil
}

// ArchiveTrades uploads the session's closed trades as JSONL. Large exports
// go through the multipart path.
func (a *Archiver) ArchiveTrades(ctx context.Context, strategy domain.Strategy, date time.Time, trades []*domain.Trade) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, t := range trades {
		if err := enc.Encode(t); err != nil {
			return fmt.Errorf("s3blob: encode trade %s: %w", t.ID, err)
		}
	}

	key := fmt.Sprintf("trades/%s/%s.jsonl", strategy, date.Format("2006-01-02"))
	if int64(buf.Len()) >= minPartSize {
		if err := a.writer.PutMultipart(ctx, key, &buf, minPartSize); err != nil {
			return err
		}
	} else {
		if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
			return err
		}
	}

	a.logger.InfoContext(ctx, "trades archived",
		slog.String("key", key),
		slog.Int("count", len(trades)))
	return nil
}
