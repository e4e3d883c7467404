package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

type fakeWriter struct {
	puts map[string][]byte
	err  error
}

func (f *fakeWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if f.err != nil {
		return f.err
	}
	if f.puts == nil {
		f.puts = map[string][]byte{}
	}
	buf, _ := io.ReadAll(data)
	f.puts[path] = buf
	return nil
}

type fakeOutcomes struct {
	domain.OutcomeStore
	old     []domain.ReplicationOutcome
	deleted []time.Time
}

func (f *fakeOutcomes) ListBefore(_ context.Context, _ time.Time) ([]domain.ReplicationOutcome, error) {
	return f.old, nil
}

func (f *fakeOutcomes) DeleteBefore(_ context.Context, before time.Time) (int64, error) {
	f.deleted = append(f.deleted, before)
	return int64(len(f.old)), nil
}

func TestArchiveOutcomesUploadsThenDeletes(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeOutcomes{old: []domain.ReplicationOutcome{
		{ID: "a", OrderID: "o1", FollowerID: "bot-a", Success: true, TxHash: "0x1"},
		{ID: "b", OrderID: "o1", FollowerID: "bot-b", Error: "reverted"},
	}}
	a := NewArchiver(writer, store, 0, 0, slog.New(slog.DiscardHandler))

	cutoff := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	n, err := a.ArchiveOutcomes(context.Background(), cutoff)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.Len(t, writer.puts, 1)
	body := writer.puts["archive/outcomes/2025-08/20250801T000000Z.jsonl"]
	require.NotNil(t, body)
	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	assert.Len(t, lines, 2, "one JSONL line per outcome")

	require.Len(t, store.deleted, 1)
	assert.Equal(t, cutoff, store.deleted[0])
}

func TestArchiveOutcomesKeepsRowsOnUploadFailure(t *testing.T) {
	writer := &fakeWriter{err: errors.New("bucket unreachable")}
	store := &fakeOutcomes{old: []domain.ReplicationOutcome{{ID: "a"}}}
	a := NewArchiver(writer, store, 0, 0, slog.New(slog.DiscardHandler))

	_, err := a.ArchiveOutcomes(context.Background(), time.Now())
	require.Error(t, err)
	assert.Empty(t, store.deleted, "rows must survive a failed upload")
}

func TestArchiveOutcomesNoopWhenEmpty(t *testing.T) {
	writer := &fakeWriter{}
	store := &fakeOutcomes{}
	a := NewArchiver(writer, store, 0, 0, slog.New(slog.DiscardHandler))

	n, err := a.ArchiveOutcomes(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, writer.puts)
}
