package sessionlog

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCSV_InvokesVisitPerRow(t *testing.T) {
	data := "timestamp,toolName,tokens,metadata\n" +
		"2024-01-01T00:00:00Z,file-read,42,\"path=/tmp/a.txt\"\n" +
		"2024-01-01T00:01:00Z,file-write,99,\"path=/tmp/b.txt\"\n"

	var recs []ToolCallRecord
	err := ParseCSV(strings.NewReader(data), func(r ToolCallRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "file-read", recs[0].ToolName)
	assert.Equal(t, 42, recs[0].Tokens)
	assert.Equal(t, "/tmp/b.txt", recs[1].FilePath)
}

func TestParseCSV_StripsBOM(t *testing.T) {
	data := "\xEF\xBB\xBFtimestamp,toolName,tokens,metadata\n" +
		"2024-01-01T00:00:00Z,file-read,10,\"path=/tmp/a.txt\"\n"

	var recs []ToolCallRecord
	err := ParseCSV(strings.NewReader(data), func(r ToolCallRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "file-read", recs[0].ToolName)
}

func TestParseCSV_ToleratesRaggedColumnOrder(t *testing.T) {
	data := "toolName,tokens,timestamp\nfile-read,5,2024-01-01T00:00:00Z\n"
	var recs []ToolCallRecord
	err := ParseCSV(strings.NewReader(data), func(r ToolCallRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, 5, recs[0].Tokens)
	assert.Equal(t, 2024, recs[0].Timestamp.Year())
}

func TestParseCSV_InvalidTimestampIsInvalidArgument(t *testing.T) {
	data := "timestamp,tokens\nnot-a-time,5\n"
	err := ParseCSV(strings.NewReader(data), func(ToolCallRecord) error { return nil })
	require.Error(t, err)
}

func TestParseCSV_StripsQuotedMetadataAndExtractsBarePath(t *testing.T) {
	data := "timestamp,toolName,tokens,metadata\n" +
		"2024-01-01T00:00:00Z,file-edit,12,\"/var/log/app/out.log\"\n"

	var recs []ToolCallRecord
	err := ParseCSV(strings.NewReader(data), func(r ToolCallRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "/var/log/app/out.log", recs[0].Metadata)
	assert.Equal(t, "/var/log/app/out.log", recs[0].FilePath)
}

func TestParseCSV_NonPathMetadataLeavesFilePathEmpty(t *testing.T) {
	data := "timestamp,toolName,tokens,metadata\n" +
		"2024-01-01T00:00:00Z,other-tool,3,\"note=nothing to see here\"\n"

	var recs []ToolCallRecord
	err := ParseCSV(strings.NewReader(data), func(r ToolCallRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].FilePath)
}

func TestParseJSONL_ExtractsKnownFieldsIgnoringUnknownSiblings(t *testing.T) {
	data := `{"timestamp":"2024-01-01T00:00:00Z","toolName":"file-read","tokens":7,"metadata":"path=/tmp/a.txt","extra":{"nested":true}}` + "\n"

	var recs []ToolCallRecord
	err := ParseJSONL(strings.NewReader(data), func(r ToolCallRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "file-read", recs[0].ToolName)
	assert.Equal(t, "/tmp/a.txt", recs[0].FilePath)
	assert.Equal(t, 7, recs[0].Tokens)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), recs[0].Timestamp)
}

func TestParseJSONL_MinimalLineWithoutMetadataIsFine(t *testing.T) {
	data := `{"timestamp":"2024-01-01T00:00:00Z","toolName":"file-read","tokens":3}` + "\n"

	var recs []ToolCallRecord
	err := ParseJSONL(strings.NewReader(data), func(r ToolCallRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Empty(t, recs[0].FilePath)
}

func TestParseJSONL_SkipsBlankLines(t *testing.T) {
	data := "\n{\"toolName\":\"x\",\"tokens\":1}\n\n"
	var count int
	err := ParseJSONL(strings.NewReader(data), func(ToolCallRecord) error {
		count++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestParseJSONL_InvalidLineIsInvalidArgument(t *testing.T) {
	err := ParseJSONL(strings.NewReader("not json\n"), func(ToolCallRecord) error { return nil })
	require.Error(t, err)
}

func TestListSessions_FindsCSVAndJSONLNewestFirst(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "operations-old.csv"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session-log-new.jsonl"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("x"), 0o644))

	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "operations-old.csv"), old, old))

	files, err := ListSessions(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, "jsonl", files[0].Format)
}
