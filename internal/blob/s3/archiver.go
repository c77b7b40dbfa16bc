package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/alanyoungcy/depthbot/internal/domain"
)

// multipartThreshold is the file size above which uploads go multipart.
const multipartThreshold int64 = 64 * 1024 * 1024

// Archiver uploads finished capture files and trade exports.
type Archiver struct {
	writer domain.BlobWriter
	prefix string
	logger *slog.Logger
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(writer domain.BlobWriter, prefix string, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer: writer,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
}

// ArchiveCapture uploads the capture file at path and returns its key,
// e.g. captures/2025-01-31/capture-....jsonl.
func (a *Archiver) ArchiveCapture(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("s3blob: archive capture: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("s3blob: archive capture: %w", err)
	}

	key := a.key("captures", st.ModTime(), filepath.Base(path))
	if st.Size() > multipartThreshold {
		err = a.writer.PutMultipart(ctx, key, f, minPartSize)
	} else {
		err = a.writer.Put(ctx, key, f, "application/x-ndjson")
	}
	if err != nil {
		return "", fmt.Errorf("s3blob: archive capture: %w", err)
	}
	a.logger.Info("capture archived", slog.String("key", key), slog.Int64("bytes", st.Size()))
	return key, nil
}

// ArchiveTrades exports the trades stored for origin since the given time as
// JSONL and returns the key and the number of trades written.
func (a *Archiver) ArchiveTrades(ctx context.Context, store domain.TradeStore, origin domain.Origin, since time.Time) (string, int, error) {
	trades, err := store.ListBySymbol(ctx, origin, domain.ListOpts{Since: &since})
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return "", 0, nil
	}
	buf, err := marshalJSONL(trades)
	if err != nil {
		return "", 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}
	key := a.key("trades", since, fmt.Sprintf("%s-%s.jsonl", origin.Venue, origin.Symbol))
	if err := a.writer.Put(ctx, key, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return "", 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}
	a.logger.Info("trades archived", slog.String("key", key), slog.Int("count", len(trades)))
	return key, len(trades), nil
}

func (a *Archiver) key(kind string, t time.Time, name string) string {
	k := fmt.Sprintf("%s/%s/%s", kind, t.UTC().Format("2006-01-02"), name)
	if a.prefix != "" {
		k = a.prefix + "/" + k
	}
	return k
}

// marshalJSONL encodes records one compact JSON value per line.
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
