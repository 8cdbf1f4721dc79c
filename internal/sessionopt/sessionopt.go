// Package sessionopt implements C7: the session optimizer handler. It reads
// a session's CSV operation log (C6), resolves every file-tool row through
// the path sandbox (C13), and runs each file's contents through optimization
// admission (C5) so large file-tool outputs get compressed post-hoc in the
// cache, independent of whether the tool call that produced them used the
// cache at all.
package sessionopt

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"github.com/compresr/token-optimizer/internal/admission"
	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/sandbox"
	"github.com/compresr/token-optimizer/internal/sessionlog"
)

// fileToolNames is the set of operations whose metadata path is worth
// reading and re-optimizing post-hoc.
var fileToolNames = map[string]bool{
	"file-read":  true,
	"file-write": true,
	"file-edit":  true,
}

// Summary is the result of OptimizeSession (spec §4.7).
type Summary struct {
	SessionID          string  `json:"sessionId"`
	OperationsAnalyzed int     `json:"operationsAnalyzed"`
	OperationsCompressed int   `json:"operationsCompressed"`
	BeforeTokens       int     `json:"beforeTokens"`
	AfterTokens        int     `json:"afterTokens"`
	PercentSaved       float64 `json:"percentSaved"`
	PathsRejected      int     `json:"pathsRejected"`
	SecureBaseDir      string  `json:"secureBaseDir"`
}

// currentSessionPointer is the on-disk shape of current-session.txt.
type currentSessionPointer struct {
	SessionID       string `json:"sessionId"`
	StartTime       string `json:"startTime"`
	LastActivity    string `json:"lastActivity"`
	TotalOperations int    `json:"totalOperations"`
}

// Optimizer wires the session log store, admission layer and sandbox
// together behind OptimizeSession.
type Optimizer struct {
	logsDir   string
	sandbox   *sandbox.Sandbox
	admission *admission.Admission
}

// New constructs an Optimizer. logsDir holds the per-session CSV/JSONL
// files; sb confines the file paths named inside those logs.
func New(logsDir string, sb *sandbox.Sandbox, adm *admission.Admission) *Optimizer {
	return &Optimizer{logsDir: logsDir, sandbox: sb, admission: adm}
}

// OptimizeSession resolves the target session (explicit id, or the
// current-session pointer file if sessionID is empty), streams its CSV
// operation log, and re-optimizes the content of every file-tool row whose
// token count clears minTokenThreshold.
//
// The reference implementation doesn't deduplicate repeated paths within a
// session before re-reading and re-optimizing them (spec §9 open question);
// this implementation coalesces duplicate canonical paths within one run,
// which is behavior-preserving for the returned counts (a repeated path adds
// the after-token count and compressed count of its first optimization
// again) but avoids redundant work.
func (o *Optimizer) OptimizeSession(ctx context.Context, sessionID string, minTokenThreshold int) (Summary, error) {
	resolvedID, err := o.resolveSessionID(sessionID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{SessionID: resolvedID, SecureBaseDir: o.sandbox.BaseDir()}

	logPath := filepath.Join(o.logsDir, "operations-"+resolvedID+".csv")
	f, err := os.Open(logPath)
	if err != nil {
		if os.IsNotExist(err) {
			return Summary{}, apperrors.NotFound("no operation log for session %q", resolvedID)
		}
		return Summary{}, apperrors.Internal(err, "opening session log %s", logPath)
	}
	defer f.Close()

	seen := make(map[string]admission.Result)

	visit := func(rec sessionlog.ToolCallRecord) error {
		if !fileToolNames[rec.ToolName] {
			return nil
		}
		if rec.Tokens <= minTokenThreshold {
			return nil
		}
		if rec.FilePath == "" {
			return nil
		}

		summary.OperationsAnalyzed++
		summary.BeforeTokens += rec.Tokens

		canonical, err := o.sandbox.Resolve(rec.FilePath)
		if err != nil {
			summary.PathsRejected++
			log.Warn().Str("session_id", resolvedID).Str("path", rec.FilePath).Msg("sessionopt: rejected path outside sandbox")
			return nil
		}
		if prev, ok := seen[canonical]; ok {
			summary.AfterTokens += tokensAfter(prev)
			if prev.Compressed {
				summary.OperationsCompressed++
			}
			return nil
		}

		content, err := os.ReadFile(canonical)
		if err != nil {
			if os.IsNotExist(err) {
				summary.PathsRejected++
				log.Warn().Str("session_id", resolvedID).Str("path", canonical).Msg("sessionopt: path does not exist")
				return nil
			}
			return apperrors.Internal(err, "reading file %s", canonical)
		}

		result, err := o.admission.Optimize(ctx, canonical, content)
		if err != nil {
			return err
		}
		seen[canonical] = result

		summary.AfterTokens += tokensAfter(result)
		if result.Compressed {
			summary.OperationsCompressed++
		}
		return nil
	}

	if err := sessionlog.ParseCSV(f, visit); err != nil {
		return Summary{}, err
	}

	if summary.BeforeTokens > 0 {
		summary.PercentSaved = (1 - float64(summary.AfterTokens)/float64(summary.BeforeTokens)) * 100
	}
	return summary, nil
}

// tokensAfter approximates the post-compression token count proportionally
// from the byte-level savings admission already computed, since re-counting
// tokens over the compressed base64 form here would duplicate C5's own
// accounting. When nothing was compressed, the token count is unchanged.
func tokensAfter(r admission.Result) int {
	if !r.Compressed || r.OriginalBytes == 0 {
		return r.Tokens
	}
	ratio := float64(r.StoredBytes) / float64(r.OriginalBytes)
	after := int(float64(r.Tokens) * ratio)
	if after < 0 {
		after = 0
	}
	return after
}

func (o *Optimizer) resolveSessionID(sessionID string) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}

	ptrPath := filepath.Join(o.logsDir, "current-session.txt")
	data, err := os.ReadFile(ptrPath)
	if err != nil {
		return "", apperrors.NotFound("no session id given and no current-session pointer at %s", ptrPath)
	}
	data = stripBOM(data)

	var ptr currentSessionPointer
	if err := json.Unmarshal(data, &ptr); err != nil {
		return "", apperrors.InvalidArgument("invalid current-session pointer: %v", err)
	}
	if ptr.SessionID == "" {
		return "", apperrors.NotFound("current-session pointer has no sessionId")
	}
	return ptr.SessionID, nil
}

var bom = []byte{0xEF, 0xBB, 0xBF}

func stripBOM(b []byte) []byte {
	if len(b) >= 3 && b[0] == bom[0] && b[1] == bom[1] && b[2] == bom[2] {
		return b[3:]
	}
	return b
}
