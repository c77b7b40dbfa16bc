package capture

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/depthbot/internal/domain"
	"github.com/alanyoungcy/depthbot/internal/mailbox"
	"github.com/alanyoungcy/depthbot/internal/platform"
)

var discard = slog.New(slog.DiscardHandler)

func frameAt(micros int64, key, data string) platform.Frame {
	return platform.Frame{Venue: domain.VenueBitbank, Key: key, Data: []byte(data), ReceivedAt: time.UnixMicro(micros)}
}

func TestWriterThenReadAll(t *testing.T) {
	w, err := NewWriter(t.TempDir(), discard)
	require.NoError(t, err)
	assert.NotEmpty(t, w.Session())
	assert.True(t, strings.HasSuffix(w.Path(), ".jsonl"))

	require.NoError(t, w.Write(frameAt(20, "depth_diff_btc_jpy", `{"a":[],"b":[],"t":2,"s":"2"}`)))
	w.Tap(frameAt(10, "depth_whole_btc_jpy", `{"asks":[],"bids":[],"timestamp":1,"sequenceId":"1"}`))
	assert.Equal(t, int64(2), w.Count())
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.Error(t, w.Write(frameAt(30, "x", `{}`)))

	f, err := os.Open(w.Path())
	require.NoError(t, err)
	defer f.Close()
	frames, err := ReadAll(f)
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "depth_whole_btc_jpy", frames[0].Key, "frames are ordered by receive time")
	assert.Equal(t, "depth_diff_btc_jpy", frames[1].Key)
}

func TestFileName(t *testing.T) {
	name := FileName(time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), "0123456789abcdef")
	assert.Equal(t, "capture-20240301T123000Z-01234567.jsonl", name)
}

func TestReaderReportsLine(t *testing.T) {
	r := NewReader(strings.NewReader("\n" + `{"room_name":"ticker_btc_jpy","received_at_micros":1,"data_ticker_btc_jpy":{}}` + "\n\nnot json\n"))
	f, err := r.Next()
	require.NoError(t, err)
	assert.Equal(t, "ticker_btc_jpy", f.Key)

	_, err = r.Next()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrMalformed)
	assert.Contains(t, err.Error(), "line 4")

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestOpen(t *testing.T) {
	_, err := Open(context.Background(), "s3://captures/x.jsonl", nil)
	assert.Error(t, err)

	path := t.TempDir() + "/c.jsonl"
	require.NoError(t, os.WriteFile(path, []byte("\n"), 0o644))
	rc, err := Open(context.Background(), path, nil)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
}

type memBlobs map[string]domain.BlobInfo

func (m memBlobs) Get(_ context.Context, path string) (io.ReadCloser, error) {
	if _, ok := m[path]; !ok {
		return nil, domain.ErrNotFound
	}
	return io.NopCloser(strings.NewReader(path)), nil
}

func (m memBlobs) List(_ context.Context, prefix string) ([]domain.BlobInfo, error) {
	var out []domain.BlobInfo
	for k, v := range m {
		if strings.HasPrefix(k, prefix) {
			v.Path = k
			out = append(out, v)
		}
	}
	return out, nil
}

func TestOpenLatestUnderPrefix(t *testing.T) {
	day := time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC)
	blobs := memBlobs{
		"captures/2025-01-30/capture-a.jsonl": {LastModified: day.Add(-time.Hour)},
		"captures/2025-01-31/capture-b.jsonl": {LastModified: day},
		"captures/2025-01-31/notes.txt":       {LastModified: day.Add(time.Hour)},
		"trades/2025-01-31/bitbank.jsonl":     {LastModified: day.Add(2 * time.Hour)},
	}
	ctx := context.Background()

	rc, err := Open(ctx, "s3://captures/", blobs)
	require.NoError(t, err)
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "captures/2025-01-31/capture-b.jsonl", string(b))

	rc, err = Open(ctx, "s3://captures/2025-01-30/capture-a.jsonl", blobs)
	require.NoError(t, err)
	require.NoError(t, rc.Close())

	_, err = Open(ctx, "s3://archive/", blobs)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestReplaySendsDecodedEventsInOrder(t *testing.T) {
	frames := []platform.Frame{
		frameAt(0, "depth_whole_btc_jpy", `{"asks":[["101","1"]],"bids":[["99","1"]],"timestamp":1,"sequenceId":"1"}`),
		frameAt(1_000, "orders_btc_jpy", `{}`),
		frameAt(2_000, "depth_diff_btc_jpy", `{"a":[["101","0"]],"b":[],"t":2,"s":"2"}`),
	}
	mb := mailbox.New("replay", 8)
	out := mb.Sender()

	start := time.Now()
	st, err := Replay(context.Background(), frames, out, ReplayOptions{Speed: 1, Logger: discard})
	require.NoError(t, err)
	out.Close()

	assert.GreaterOrEqual(t, time.Since(start), 2*time.Millisecond, "gaps are paced")
	assert.Equal(t, Stats{Frames: 3, Events: 2, Skipped: 1}, st)

	var kinds []domain.EventKind
	for ev := range mb.Receive() {
		kinds = append(kinds, ev.Kind())
	}
	assert.Equal(t, []domain.EventKind{domain.KindDepthWhole, domain.KindDepthDiff}, kinds)
}

func TestReplayHonoursContext(t *testing.T) {
	frames := []platform.Frame{
		frameAt(0, "depth_diff_btc_jpy", `{"a":[],"b":[],"t":1,"s":"1"}`),
		frameAt(int64(time.Hour/time.Microsecond), "depth_diff_btc_jpy", `{"a":[],"b":[],"t":2,"s":"2"}`),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	st, err := Replay(ctx, frames, mailbox.New("replay", 8).Sender(), ReplayOptions{Speed: 1, Logger: discard})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, st.Events)
}

func TestReplayStopsOnClosedMailbox(t *testing.T) {
	mb := mailbox.New("replay", 8)
	out := mb.Sender()
	mb.Close()
	st, err := Replay(context.Background(), []platform.Frame{
		frameAt(0, "depth_diff_btc_jpy", `{"a":[],"b":[],"t":1,"s":"1"}`),
	}, out, ReplayOptions{Logger: discard})
	require.NoError(t, err)
	assert.Equal(t, 0, st.Events)
}
