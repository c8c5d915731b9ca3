package ledger

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"xianyuwatch/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func record(link string) types.Record {
	return types.Record{
		CrawledAt: time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC),
		TaskName:  "cams",
		Keyword:   "sony a7",
		Listing:   types.Listing{ID: "1", Title: "t", Link: link},
		Verdict:   &types.Verdict{IsRecommended: true, Reason: "ok"},
	}
}

func TestCanonicalKey(t *testing.T) {
	a := CanonicalKey("https://www.goofish.com/item?id=123&from=search")
	b := CanonicalKey("https://www.goofish.com/item?id=123&from=detail")
	assert.Equal(t, a, b)
	assert.Equal(t, "https://www.goofish.com/item?id=123", a)
	assert.Equal(t, "https://x/item?id=9", CanonicalKey("https://x/item?id=9"))
	assert.NotEqual(t, CanonicalKey("https://x/item?id=1&a"), CanonicalKey("https://x/item?id=2&a"))
}

func TestPath(t *testing.T) {
	assert.Equal(t, filepath.Join("out", "sony_a7_full_data.jsonl"), Path("out", types.Task{Keyword: "sony a7"}))
}

func TestLoad_MissingStoreIsEmpty(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "none.jsonl"), nil)
	require.NoError(t, err)
	assert.Zero(t, l.Len())
}

func TestLoad_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.jsonl")
	lines := []string{
		`{"listing":{"link":"https://x/item?id=1&from=search"}}`,
		`{"listing":{"link":"https://x/item?id=2`,
		``,
		`not json at all`,
		`{"商品信息":{"商品链接":"https://x/item?id=3&spm=1"}}`,
		`{"other":true}`,
	}
	require.NoError(t, os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o644))

	core, logs := observer.New(zapcore.WarnLevel)
	l, err := Load(path, zap.New(core))
	require.NoError(t, err)

	assert.Equal(t, 2, l.Len())
	assert.True(t, l.Has("https://x/item?id=1"))
	assert.True(t, l.Has("https://x/item?id=3"))
	assert.False(t, l.Has("https://x/item?id=2"))
	assert.Equal(t, 2, logs.FilterMessage("skipping unparsable record line").Len())
}

func TestMarkSeen(t *testing.T) {
	l, err := Load(filepath.Join(t.TempDir(), "s.jsonl"), nil)
	require.NoError(t, err)

	assert.True(t, l.MarkSeen("k"))
	assert.False(t, l.MarkSeen("k"))
	assert.True(t, l.Has("k"))
}

func TestAppend_IdempotentAcrossRuns(t *testing.T) {
	dir := t.TempDir()
	task := types.Task{Keyword: "sony a7"}

	first, err := Open(dir, task, nil)
	require.NoError(t, err)
	require.NoError(t, first.Append(record("https://x/item?id=1&from=search")))
	assert.ErrorIs(t, first.Append(record("https://x/item?id=1&from=detail")), ErrDuplicate)

	second, err := Open(dir, task, nil)
	require.NoError(t, err)
	assert.True(t, second.Has("https://x/item?id=1"))
	assert.ErrorIs(t, second.Append(record("https://x/item?id=1&other")), ErrDuplicate)
	require.NoError(t, second.Append(record("https://x/item?id=2&from=search")))

	var links []string
	skipped, err := ReadRecords(Path(dir, task), func(r types.Record) error {
		links = append(links, r.Listing.Link)
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, skipped)
	assert.Equal(t, []string{"https://x/item?id=1&from=search", "https://x/item?id=2&from=search"}, links)
}

func TestAppend_FailureStillMarksSeen(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	l, err := Load(filepath.Join(blocker, "store.jsonl"), nil)
	require.Error(t, err, "a path under a regular file cannot be opened")
	assert.Nil(t, l)

	l = &Ledger{path: filepath.Join(blocker, "store.jsonl"), log: zap.NewNop(), seen: map[string]struct{}{}, stored: map[string]struct{}{}}
	err = l.Append(record("https://x/item?id=5&a=b"))
	require.Error(t, err)
	assert.True(t, l.Has("https://x/item?id=5"))
}

func TestReadRecords_RoundTripsVerdict(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.jsonl")
	l, err := Load(path, nil)
	require.NoError(t, err)
	rec := record("https://x/item?id=7&a")
	rec.Verdict.RiskTags = []string{"new-account"}
	require.NoError(t, l.Append(rec))

	var got []types.Record
	_, err = ReadRecords(path, func(r types.Record) error {
		got = append(got, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.True(t, got[0].Recommended())
	assert.Equal(t, []string{"new-account"}, got[0].Verdict.RiskTags)
	assert.True(t, rec.CrawledAt.Equal(got[0].CrawledAt))
}
