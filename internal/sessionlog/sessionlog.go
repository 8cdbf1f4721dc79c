// Package sessionlog implements C6: streaming parsers for the CSV and
// JSONL hook logs a session writes as it invokes tools, plus a directory
// listing helper. Parsing is streaming throughout: neither parser loads an
// entire file into memory, since these logs can grow unbounded over a long
// session. Wire formats follow spec §8 literally: CSV columns in order are
// timestamp, toolName, tokens, metadata; JSONL lines carry at minimum
// {timestamp, toolName, tokens}. Neither format has a dedicated file-path
// column — a path, where one exists, lives inside the free-form metadata
// field and is pulled out on a best-effort basis.
package sessionlog

import (
	"bufio"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/compresr/token-optimizer/internal/apperrors"
)

// utf8BOM is the three-byte UTF-8 byte order mark some tools prepend.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// ToolCallRecord is one recorded tool invocation within a session (spec §6).
// FilePath is derived, not a wire column: it is pulled out of the free-form
// Metadata field for the file-tool rows C7 cares about, and is empty
// whenever Metadata doesn't look like it holds a path.
type ToolCallRecord struct {
	Timestamp time.Time
	ToolName  string
	Tokens    int
	Metadata  string
	FilePath  string
}

// SessionFile describes one discovered session log on disk.
type SessionFile struct {
	SessionID string
	Path      string
	Format    string // "csv" or "jsonl"
	ModTime   time.Time
	Size      int64
}

// stripBOM returns a reader that skips a leading UTF-8 BOM if present,
// tolerating logs written by tools that emit one and those that don't.
func stripBOM(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(len(utf8BOM))
	if err != nil && err != io.EOF {
		return nil, err
	}
	if len(peek) == len(utf8BOM) && string(peek) == string(utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br, nil
}

// ParseCSV streams CSV rows from r, invoking visit for each parsed record.
// Columns in order (spec §8): timestamp, toolName, tokens, metadata. The
// header row is read and used to locate columns by name so column order
// doesn't matter, but it is not itself passed to visit. Metadata is a
// free-form field that may arrive quoted; surrounding quotes are stripped
// before a file path is extracted from it.
func ParseCSV(r io.Reader, visit func(ToolCallRecord) error) error {
	clean, err := stripBOM(r)
	if err != nil {
		return apperrors.Internal(err, "reading csv stream")
	}

	reader := csv.NewReader(clean)
	reader.FieldsPerRecord = -1 // tolerate ragged trailing columns

	header, err := reader.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return apperrors.InvalidArgument("reading csv header: %v", err)
	}
	col := columnIndex(header)

	for {
		row, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return apperrors.InvalidArgument("reading csv row: %v", err)
		}

		rec, err := rowToRecord(row, col)
		if err != nil {
			return err
		}
		if err := visit(rec); err != nil {
			return err
		}
	}
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[strings.TrimSpace(strings.ToLower(name))] = i
	}
	return idx
}

func field(row []string, col map[string]int, name string) string {
	i, ok := col[name]
	if !ok || i >= len(row) {
		return ""
	}
	return row[i]
}

// stripQuotes removes one layer of surrounding double quotes, the form the
// metadata column arrives in when a producer quoted it (spec §8: "rows may
// contain quoted metadata; consumers must strip surrounding quotes").
func stripQuotes(s string) string {
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		return s[1 : len(s)-1]
	}
	return s
}

// extractFilePath pulls a file path out of a free-form metadata value. The
// wire format doesn't constrain metadata's shape, so this is deliberately
// tolerant: a bare path, a "path=..." pair among others, or a small JSON
// object carrying a "path" key are all accepted.
func extractFilePath(metadata string) string {
	metadata = stripQuotes(strings.TrimSpace(metadata))
	if metadata == "" {
		return ""
	}

	if looksLikeJSONObject(metadata) {
		if p := gjson.Get(metadata, "path"); p.Exists() {
			return p.String()
		}
	}

	for _, part := range strings.Split(metadata, ";") {
		part = strings.TrimSpace(part)
		if k, v, ok := strings.Cut(part, "="); ok && strings.EqualFold(strings.TrimSpace(k), "path") {
			return strings.TrimSpace(v)
		}
	}

	if strings.ContainsAny(metadata, "/\\") {
		return metadata
	}
	return ""
}

func looksLikeJSONObject(s string) bool {
	return strings.HasPrefix(s, "{") && strings.HasSuffix(s, "}")
}

func rowToRecord(row []string, col map[string]int) (ToolCallRecord, error) {
	rec := ToolCallRecord{
		ToolName: field(row, col, "toolname"),
		Metadata: stripQuotes(field(row, col, "metadata")),
	}
	rec.FilePath = extractFilePath(rec.Metadata)

	if ts := field(row, col, "timestamp"); ts != "" {
		parsed, err := time.Parse(time.RFC3339, ts)
		if err != nil {
			return ToolCallRecord{}, apperrors.InvalidArgument("invalid timestamp %q: %v", ts, err)
		}
		rec.Timestamp = parsed
	}

	if tok := field(row, col, "tokens"); tok != "" {
		n, err := strconv.Atoi(tok)
		if err != nil {
			return ToolCallRecord{}, apperrors.InvalidArgument("invalid tokens value %q: %v", tok, err)
		}
		rec.Tokens = n
	}

	return rec, nil
}

// jsonlFields are the keys ParseJSONL extracts from each line. Lines with
// extra, unknown fields are fine (spec §8: "readers must be tolerant of
// unknown fields") since gjson.GetMany only ever looks at the keys it's
// asked for and never errors on siblings it doesn't recognize. At minimum a
// line carries {timestamp, toolName, tokens}; metadata is optional here.
var jsonlFields = []string{"timestamp", "toolName", "tokens", "metadata"}

// ParseJSONL streams newline-delimited JSON objects from r, invoking visit
// for each. Blank lines are skipped. Fields are pulled out with gjson
// rather than a full struct unmarshal, so a malformed or oversized sibling
// field elsewhere on the line never prevents reading the ones this reader
// actually needs.
func ParseJSONL(r io.Reader, visit func(ToolCallRecord) error) error {
	clean, err := stripBOM(r)
	if err != nil {
		return apperrors.Internal(err, "reading jsonl stream")
	}

	scanner := bufio.NewScanner(clean)
	scanner.Buffer(make([]byte, 64*1024), 10*1024*1024)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			return apperrors.InvalidArgument("invalid jsonl at line %d", lineNo)
		}

		results := gjson.GetMany(line, jsonlFields...)
		rec := ToolCallRecord{
			ToolName: results[1].String(),
			Tokens:   int(results[2].Int()),
			Metadata: results[3].Raw,
		}
		if results[3].Type == gjson.String {
			rec.Metadata = results[3].String()
		}
		rec.FilePath = extractFilePath(rec.Metadata)
		if ts := results[0].String(); ts != "" {
			parsed, err := time.Parse(time.RFC3339, ts)
			if err != nil {
				return apperrors.InvalidArgument("invalid timestamp at line %d: %v", lineNo, err)
			}
			rec.Timestamp = parsed
		}

		if err := visit(rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apperrors.Internal(err, "scanning jsonl stream")
	}
	return nil
}

// ListSessions scans dir (already sandbox-resolved by the caller) for
// *.csv and *.jsonl files, returning them sorted newest-first.
func ListSessions(dir string) ([]SessionFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperrors.Internal(err, "reading session log directory %s", dir)
	}

	var out []SessionFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		var format string
		switch {
		case strings.HasSuffix(name, ".csv"):
			format = "csv"
		case strings.HasSuffix(name, ".jsonl"):
			format = "jsonl"
		default:
			continue
		}

		info, err := entry.Info()
		if err != nil {
			return nil, apperrors.Internal(err, "statting session log %s", name)
		}

		out = append(out, SessionFile{
			SessionID: strings.TrimSuffix(strings.TrimSuffix(name, ".csv"), ".jsonl"),
			Path:      filepath.Join(dir, name),
			Format:    format,
			ModTime:   info.ModTime(),
			Size:      info.Size(),
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ModTime.After(out[j].ModTime) })
	return out, nil
}
