// Package workerrunner owns the subprocess workers that execute
// foreign-runtime triks. One long-running worker serves each runtime,
// speaking newline-delimited JSON-RPC 2.0 over its stdio. The read loop
// demultiplexes inbound lines into pending-request completions and
// worker-originated storage calls; per-request deadlines are explicit
// timers. A worker exit fails every pending request, and the next
// invocation respawns the process.
package workerrunner

import (
	"bufio"
	"context"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	retry "github.com/avast/retry-go/v4"
	pkgerrors "github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Molefas/trikhub/internal/common/apperrors"
	"github.com/Molefas/trikhub/internal/common/jsonrpc"
	"github.com/Molefas/trikhub/internal/common/uuid"
	"github.com/Molefas/trikhub/internal/gateway/configstore"
	"github.com/Molefas/trikhub/internal/gateway/runners"
	"github.com/Molefas/trikhub/pkg/api"
)

// maxLineBytes bounds a single protocol line read off the worker's stdout.
const maxLineBytes = 16 * 1024 * 1024

// invokeParams is the wire shape of the invoke method.
type invokeParams struct {
	TrikPath string              `json:"trikPath"`
	Action   string              `json:"action"`
	Input    any                 `json:"input"`
	Session  *api.SessionContext `json:"session,omitempty"`
	Config   map[string]string   `json:"config,omitempty"`
}

// shutdownParams is the wire shape of the shutdown method.
type shutdownParams struct {
	GracePeriodMs int64 `json:"gracePeriodMs,omitempty"`
}

// pendingRequest correlates one outgoing request with its response.
type pendingRequest struct {
	done  chan *jsonrpc.Response
	timer *time.Timer
	// abandoned marks requests whose caller has given up; a late response is
	// consumed silently to keep the channel clean.
	abandoned bool
}

// Worker manages one subprocess for a foreign runtime. Invocations are
// serialized: the stdio channel carries one outstanding invoke at a time,
// with the worker's storage calls interleaved on the same channel.
type Worker struct {
	config Config
	logger zerolog.Logger

	// invokeSem serializes invocations over the channel.
	invokeSem chan struct{}

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	ready   bool
	pending map[string]*pendingRequest

	writeMu sync.Mutex

	// storage is the per-invocation handle worker storage calls proxy to.
	// Only one invocation is outstanding, so a single slot suffices.
	storageMu sync.RWMutex
	storage   api.StorageContext
}

// New creates a worker manager. The subprocess is spawned lazily on the
// first invocation.
func New(config Config) *Worker {
	return &Worker{
		config:    config,
		logger:    log.With().Str("worker", string(config.Runtime)).Logger(),
		invokeSem: make(chan struct{}, 1),
		pending:   make(map[string]*pendingRequest),
	}
}

func (w *Worker) ID() string {
	return "worker:" + string(w.config.Runtime)
}

// Ready reports whether the subprocess is up and health-checked.
func (w *Worker) Ready() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.ready
}

// ensureStarted spawns the subprocess if needed and waits for a passing
// health check within the startup deadline.
func (w *Worker) ensureStarted(ctx context.Context) apperrors.Error {
	w.mu.Lock()
	if w.ready {
		w.mu.Unlock()
		return nil
	}

	if w.cmd != nil {
		// a previous incarnation died; forget it before respawning
		w.teardownLocked()
	}

	cmd := exec.Command(w.config.Command[0], w.config.Command[1:]...)
	cmd.Env = os.Environ()
	for k, v := range w.config.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.mu.Unlock()
		return runners.ErrWorkerNotReady.Err(pkgerrors.Wrap(err, "stdin pipe"))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.mu.Unlock()
		return runners.ErrWorkerNotReady.Err(pkgerrors.Wrap(err, "stdout pipe"))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.mu.Unlock()
		return runners.ErrWorkerNotReady.Err(pkgerrors.Wrap(err, "stderr pipe"))
	}

	if err := cmd.Start(); err != nil {
		w.mu.Unlock()
		return runners.ErrWorkerNotReady.Err(pkgerrors.Wrap(err, "spawn worker"))
	}

	w.cmd = cmd
	w.stdin = stdin
	w.mu.Unlock()

	go w.readLoop(cmd, stdout)
	go w.drainStderr(stderr)

	// Health check, retried until the startup deadline. A fresh interpreter
	// can take a moment before it services its first request.
	startupCtx, cancel := context.WithTimeout(ctx, w.config.StartupTimeout())
	defer cancel()

	err = retry.Do(
		func() error {
			_, herr := w.health(startupCtx, 2*time.Second)
			return herr
		},
		retry.Context(startupCtx),
		retry.Attempts(0),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
	)
	if err != nil {
		w.Kill()
		return runners.ErrWorkerNotReady.Msg("startup health check failed: " + err.Error())
	}

	w.mu.Lock()
	w.ready = true
	w.mu.Unlock()
	w.logger.Info().Msg("worker ready")
	return nil
}

// health issues a health RPC and decodes the report.
func (w *Worker) health(ctx context.Context, timeout time.Duration) (*api.HealthStatus, error) {
	resp, err := w.roundTrip(ctx, jsonrpc.MethodHealth, nil, timeout)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, runners.ErrWorkerNotReady.Msg(resp.Error.String())
	}
	var status api.HealthStatus
	if gerr := resp.Result.GetAs(&status); gerr != nil {
		return nil, runners.ErrWorkerNotReady.Msg("malformed health result: " + gerr.Error())
	}
	if status.Status != "ok" {
		return nil, runners.ErrWorkerNotReady.Msg("worker reported status " + status.Status)
	}
	return &status, nil
}

// Health reports the worker's health, starting it if needed.
func (w *Worker) Health(ctx context.Context) (*api.HealthStatus, apperrors.Error) {
	if err := w.ensureStarted(ctx); err != nil {
		return nil, err
	}
	status, err := w.health(ctx, 5*time.Second)
	if err != nil {
		if apperr, ok := err.(apperrors.Error); ok {
			return nil, apperr
		}
		return nil, runners.ErrWorkerNotReady.Err(err)
	}
	return status, nil
}

// Invoke executes one action on the worker. The invocation's storage handle
// services any storage.* calls the worker makes while the invoke is
// outstanding.
func (w *Worker) Invoke(ctx context.Context, inv *runners.Invocation) (*api.SkillOutput, apperrors.Error) {
	select {
	case w.invokeSem <- struct{}{}:
		defer func() { <-w.invokeSem }()
	case <-ctx.Done():
		return nil, runners.ErrCancelled
	}

	if err := w.ensureStarted(ctx); err != nil {
		return nil, err
	}

	w.storageMu.Lock()
	w.storage = inv.Storage
	w.storageMu.Unlock()
	defer func() {
		w.storageMu.Lock()
		w.storage = nil
		w.storageMu.Unlock()
	}()

	timeout := inv.Timeout
	if timeout <= 0 {
		timeout = w.config.InvokeTimeout()
	}

	params := invokeParams{
		TrikPath: inv.TrikPath,
		Action:   inv.Action,
		Input:    inv.Input,
		Session:  inv.Session,
		Config:   configstore.Values(inv.Config),
	}

	resp, err := w.roundTrip(ctx, jsonrpc.MethodInvoke, params, timeout)
	if err != nil {
		if apperr, ok := err.(apperrors.Error); ok {
			return nil, apperr
		}
		return nil, runners.ErrExecutionFailed.Err(err)
	}
	if resp.Error != nil {
		return nil, mapWorkerError(resp.Error)
	}

	var output api.SkillOutput
	if gerr := resp.Result.GetAs(&output); gerr != nil {
		return nil, runners.ErrExecutionFailed.Msg("malformed invoke result: " + gerr.Error())
	}
	return &output, nil
}

// mapWorkerError converts a worker error object to the runner error tree.
func mapWorkerError(errObj *jsonrpc.ErrorObject) apperrors.Error {
	switch errObj.Code {
	case jsonrpc.ErrCodeTrikNotFound:
		return runners.ErrTrikNotFound.Msg(errObj.Message)
	case jsonrpc.ErrCodeActionNotFound:
		return runners.ErrActionNotFound.Msg(errObj.Message)
	case jsonrpc.ErrCodeExecutionTimeout:
		return runners.ErrExecutionTimeout.Msg(errObj.Message)
	case jsonrpc.ErrCodeWorkerNotReady:
		return runners.ErrWorkerNotReady.Msg(errObj.Message)
	default:
		return runners.ErrExecutionFailed.Msg(errObj.String())
	}
}

// roundTrip sends one request and waits for the matching response, the
// deadline, or caller cancellation. On timeout or cancellation the pending
// entry is abandoned in place so the late response is swallowed without a
// parse diagnostic.
func (w *Worker) roundTrip(ctx context.Context, method jsonrpc.MethodType, params any, timeout time.Duration) (*jsonrpc.Response, error) {
	id := uuid.NewString()
	line, err := jsonrpc.ConstructRequest(id, method, params)
	if err != nil {
		return nil, runners.ErrExecutionFailed.Err(err)
	}

	pending := &pendingRequest{done: make(chan *jsonrpc.Response, 1)}
	pending.timer = time.NewTimer(timeout)
	defer pending.timer.Stop()

	w.mu.Lock()
	if w.stdin == nil {
		w.mu.Unlock()
		return nil, runners.ErrWorkerNotReady.Msg("worker not running")
	}
	w.pending[id] = pending
	w.mu.Unlock()

	if err := w.writeLine(line); err != nil {
		w.mu.Lock()
		delete(w.pending, id)
		w.mu.Unlock()
		return nil, runners.ErrChannelTerminated.Err(err)
	}

	select {
	case resp := <-pending.done:
		if resp == nil {
			return nil, runners.ErrChannelTerminated
		}
		return resp, nil
	case <-pending.timer.C:
		w.abandon(id)
		return nil, runners.ErrExecutionTimeout.Msg(string(method) + " timed out after " + timeout.String())
	case <-ctx.Done():
		w.abandon(id)
		return nil, runners.ErrCancelled
	}
}

// abandon marks a pending request so its eventual response is dropped.
func (w *Worker) abandon(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if pending, ok := w.pending[id]; ok {
		pending.abandoned = true
	}
}

// writeLine writes one framed message to the worker's stdin.
func (w *Worker) writeLine(line []byte) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()

	w.mu.Lock()
	stdin := w.stdin
	w.mu.Unlock()
	if stdin == nil {
		return runners.ErrWorkerNotReady.Msg("worker not running")
	}

	if _, err := stdin.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// readLoop consumes the worker's stdout until EOF, demultiplexing responses
// to pending requests and servicing worker-originated requests.
func (w *Worker) readLoop(cmd *exec.Cmd, stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg, err := jsonrpc.ParseMessage(line)
		if err != nil {
			// a malformed line is dropped with a diagnostic; the channel
			// itself stays open
			w.logger.Warn().Err(err).Msg("dropping malformed worker message")
			continue
		}
		switch {
		case msg.Response != nil:
			w.dispatchResponse(msg.Response)
		case msg.Request != nil:
			w.dispatchRequest(msg.Request)
		}
	}

	cmd.Wait()
	w.handleExit()
}

// dispatchResponse completes the matching pending request or drops the
// message with a diagnostic.
func (w *Worker) dispatchResponse(resp *jsonrpc.Response) {
	w.mu.Lock()
	pending, ok := w.pending[resp.ID]
	if ok {
		delete(w.pending, resp.ID)
	}
	w.mu.Unlock()

	if !ok {
		w.logger.Warn().Str("id", resp.ID).Msg("dropping response with no pending request")
		return
	}
	if pending.abandoned {
		// late response to a timed-out or cancelled request; consumed to keep
		// the channel clean
		return
	}
	pending.timer.Stop()
	pending.done <- resp
}

// dispatchRequest services a worker-originated request. Storage calls are
// proxied to the current invocation's storage handle; anything else is
// method-not-found.
func (w *Worker) dispatchRequest(req *jsonrpc.Request) {
	if jsonrpc.IsStorageMethod(req.Method) {
		w.handleStorageRequest(req)
		return
	}
	line, err := jsonrpc.ConstructErrorResponse(req.ID, jsonrpc.ErrCodeMethodNotFound, "unknown method: "+string(req.Method), nil)
	if err == nil {
		w.writeLine(line)
	}
}

// drainStderr surfaces worker stderr to the host logger. It is diagnostic
// output, never parsed.
func (w *Worker) drainStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		w.logger.Debug().Str("stream", "stderr").Msg(scanner.Text())
	}
}

// handleExit fails every pending request and invalidates the ready flag.
// A subsequent invocation respawns the worker.
func (w *Worker) handleExit() {
	w.mu.Lock()
	pending := w.pending
	w.pending = make(map[string]*pendingRequest)
	w.ready = false
	w.stdin = nil
	w.cmd = nil
	w.mu.Unlock()

	for _, p := range pending {
		p.timer.Stop()
		if !p.abandoned {
			p.done <- nil
		}
	}
	if len(pending) > 0 {
		w.logger.Warn().Int("failed_requests", len(pending)).Msg("worker exited with pending requests")
	} else {
		w.logger.Info().Msg("worker exited")
	}
}

// teardownLocked forgets the current subprocess. Caller holds w.mu.
func (w *Worker) teardownLocked() {
	if w.cmd != nil && w.cmd.Process != nil {
		w.cmd.Process.Kill()
	}
	w.cmd = nil
	w.stdin = nil
	w.ready = false
}

// Kill force-stops the subprocess. Pending requests fail through the read
// loop's exit handling.
func (w *Worker) Kill() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.teardownLocked()
}

// Shutdown asks the worker to exit gracefully, then kills it after the grace
// period.
func (w *Worker) Shutdown(ctx context.Context) {
	w.mu.Lock()
	running := w.cmd != nil
	w.mu.Unlock()
	if !running {
		return
	}

	params := shutdownParams{GracePeriodMs: w.config.GracePeriodMs}
	_, err := w.roundTrip(ctx, jsonrpc.MethodShutdown, params, w.config.GracePeriod())
	if err != nil {
		w.logger.Debug().Err(err).Msg("graceful shutdown failed; killing worker")
	}
	w.Kill()
}

var _ runners.Runner = (*Worker)(nil)
