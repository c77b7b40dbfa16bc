package capture

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/platform"
)

// maxLineSize bounds one capture line; whole-book snapshots are the largest.
const maxLineSize = 16 * 1024 * 1024

// S3Scheme prefixes capture locations stored in object storage.
const S3Scheme = "s3://"

// Reader parses a capture stream line by line.
type Reader struct {
	sc   *bufio.Scanner
	line int
}

// NewReader reads captures from r.
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{sc: sc}
}

// Next returns the next frame, skipping blank lines. It returns io.EOF at the
// end of the stream.
func (r *Reader) Next() (platform.Frame, error) {
	for r.sc.Scan() {
		r.line++
		line := bytes.TrimSpace(r.sc.Bytes())
		if len(line) == 0 {
			continue
		}
		f, err := platform.DecodeFrame(line)
		if err != nil {
			return platform.Frame{}, fmt.Errorf("capture: line %d: %w", r.line, err)
		}
		return f, nil
	}
	if err := r.sc.Err(); err != nil {
		return platform.Frame{}, fmt.Errorf("capture: line %d: %w", r.line+1, err)
	}
	return platform.Frame{}, io.EOF
}

// ReadAll parses the whole stream and orders the frames by receive time,
// keeping file order among equal timestamps.
func ReadAll(r io.Reader) ([]platform.Frame, error) {
	cr := NewReader(r)
	var frames []platform.Frame
	for {
		f, err := cr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	slices.SortStableFunc(frames, func(a, b platform.Frame) int {
		return a.ReceivedAt.Compare(b.ReceivedAt)
	})
	return frames, nil
}

// Open opens a capture by location: a local path, or s3://<key> read through
// blobs. A key ending in "/" names a prefix and opens the most recently
// modified capture under it.
func Open(ctx context.Context, location string, blobs domain.BlobReader) (io.ReadCloser, error) {
	if key, ok := strings.CutPrefix(location, S3Scheme); ok {
		if blobs == nil {
			return nil, fmt.Errorf("capture: %s needs object storage configured", location)
		}
		if strings.HasSuffix(key, "/") || key == "" {
			latest, err := latestCapture(ctx, blobs, key)
			if err != nil {
				return nil, err
			}
			key = latest
		}
		return blobs.Get(ctx, key)
	}
	f, err := os.Open(location)
	if err != nil {
		return nil, fmt.Errorf("capture: open: %w", err)
	}
	return f, nil
}

func latestCapture(ctx context.Context, blobs domain.BlobReader, prefix string) (string, error) {
	infos, err := blobs.List(ctx, prefix)
	if err != nil {
		return "", fmt.Errorf("capture: list %s: %w", prefix, err)
	}
	var latest domain.BlobInfo
	for _, info := range infos {
		if !strings.HasSuffix(info.Path, Ext) {
			continue
		}
		if latest.Path == "" || info.LastModified.After(latest.LastModified) {
			latest = info
		}
	}
	if latest.Path == "" {
		return "", fmt.Errorf("capture: no capture under %s%s: %w", S3Scheme, prefix, domain.ErrNotFound)
	}
	return latest.Path, nil
}
