// Package dispatcher implements C12: the newline-delimited JSON-RPC 2.0
// request loop that sits in front of the tool handler registry (C11).
// Every call is metered through the metrics collector (C3) and wrapped in
// the uniform call_tool envelope regardless of whether the handler
// succeeded, failed, or timed out.
package dispatcher

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/compresr/token-optimizer/internal/admission"
	"github.com/compresr/token-optimizer/internal/apperrors"
	"github.com/compresr/token-optimizer/internal/metrics"
	"github.com/compresr/token-optimizer/internal/registry"
)

// request is the inbound JSON-RPC 2.0 envelope.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// response is the outbound JSON-RPC 2.0 envelope. Exactly one of Result,
// Error is populated.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  any             `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// contentBlock is one element of the call_tool envelope's content array.
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// callEnvelope is the uniform call_tool result shape (spec §4.12, §6).
type callEnvelope struct {
	Content []contentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

type callParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
	TTLMillis *int64         `json:"ttlMillis,omitempty"`
}

// Dispatcher reads newline-delimited JSON-RPC requests from an input
// stream and writes replies to an output stream, routing call_tool
// invocations to a Registry.
type Dispatcher struct {
	reg          *registry.Registry
	collector    *metrics.Collector
	callDeadline time.Duration
	writeMu      sync.Mutex
}

// New constructs a Dispatcher. callDeadline bounds every call_tool
// invocation (spec §5: "default 30s").
func New(reg *registry.Registry, collector *metrics.Collector, callDeadline time.Duration) *Dispatcher {
	if callDeadline <= 0 {
		callDeadline = 30 * time.Second
	}
	return &Dispatcher{reg: reg, collector: collector, callDeadline: callDeadline}
}

// Serve reads requests from r until EOF or ctx is canceled, one per line,
// writing each reply to w. A single client's requests are processed in
// receipt order but their handler execution may overlap (spec §5): each
// line is dispatched onto its own goroutine, replies still originate from
// that goroutine so WAL-style per-key ordering inside the cache is
// preserved by the cache engine itself, not by this loop.
func (d *Dispatcher) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	var wg sync.WaitGroup
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(trimSpace(line)) == 0 {
			continue
		}
		lineCopy := append([]byte(nil), line...)

		wg.Add(1)
		go func() {
			defer wg.Done()
			d.handleLine(ctx, lineCopy, w)
		}()

		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		default:
		}
	}
	wg.Wait()
	return scanner.Err()
}

func trimSpace(b []byte) []byte {
	start := 0
	for start < len(b) && (b[start] == ' ' || b[start] == '\t' || b[start] == '\r' || b[start] == '\n') {
		start++
	}
	end := len(b)
	for end > start && (b[end-1] == ' ' || b[end-1] == '\t' || b[end-1] == '\r' || b[end-1] == '\n') {
		end--
	}
	return b[start:end]
}

func (d *Dispatcher) handleLine(ctx context.Context, line []byte, w io.Writer) {
	var req request
	if err := json.Unmarshal(line, &req); err != nil {
		d.writeResponse(w, response{JSONRPC: "2.0", Error: &rpcError{Code: -32700, Message: "parse error: " + err.Error()}})
		return
	}
	if req.JSONRPC == "" {
		req.JSONRPC = "2.0"
	}

	switch req.Method {
	case "list_tools":
		d.handleListTools(req, w)
	case "call_tool":
		d.handleCallTool(ctx, req, w)
	default:
		d.writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: "unknown method: " + req.Method}})
	}
}

func (d *Dispatcher) handleListTools(req request, w io.Writer) {
	d.writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Result: d.reg.List()})
}

func (d *Dispatcher) handleCallTool(ctx context.Context, req request, w io.Writer) {
	var params callParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		d.writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params: " + err.Error()}})
		return
	}

	callCtx, cancel := context.WithTimeout(ctx, d.callDeadline)
	defer cancel()

	start := time.Now()
	callID := uuid.NewString()

	var ttlOverride *time.Duration
	if params.TTLMillis != nil {
		ttl := time.Duration(*params.TTLMillis) * time.Millisecond
		ttlOverride = &ttl
	}

	result, err := d.reg.Invoke(callCtx, params.Name, params.Arguments, ttlOverride)
	duration := time.Since(start)

	envelope := callEnvelope{}
	success := err == nil

	switch {
	case err == nil:
		text, marshalErr := json.Marshal(result.Value)
		if marshalErr != nil {
			envelope.IsError = true
			envelope.Content = []contentBlock{{Type: "text", Text: marshalErr.Error()}}
			success = false
		} else {
			envelope.Content = []contentBlock{{Type: "text", Text: string(text)}}
		}
	case errors.Is(callCtx.Err(), context.DeadlineExceeded):
		envelope.IsError = true
		envelope.Content = []contentBlock{{Type: "text", Text: apperrors.Timeout("call %q exceeded %s deadline", params.Name, d.callDeadline).Error()}}
	default:
		envelope.IsError = true
		envelope.Content = []contentBlock{{Type: "text", Text: apperrors.Wrap(err).Error()}}
	}

	if d.collector != nil {
		rec := metrics.OperationRecord{
			Operation: params.Name,
			Duration:  duration,
			Success:   success,
			CacheHit:  err == nil && result.CacheHit,
			Metadata:  map[string]string{"callId": callID},
		}
		if ar, ok := result.Value.(admission.Result); ok {
			rec.InputTokens = ar.Tokens
			rec.SavedTokens = ar.TokensSaved
		}
		d.collector.Record(rec)
	}

	log.Debug().Str("call_id", callID).Str("tool", params.Name).Dur("duration", duration).Bool("success", success).Msg("dispatcher: call_tool handled")

	d.writeResponse(w, response{JSONRPC: "2.0", ID: req.ID, Result: envelope})
}

func (d *Dispatcher) writeResponse(w io.Writer, resp response) {
	raw, err := json.Marshal(resp)
	if err != nil {
		log.Error().Err(err).Msg("dispatcher: failed to marshal response")
		return
	}
	raw = append(raw, '\n')

	d.writeMu.Lock()
	defer d.writeMu.Unlock()
	if _, err := w.Write(raw); err != nil {
		log.Error().Err(err).Msg("dispatcher: failed to write response")
	}
}
