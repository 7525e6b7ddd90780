// Package report streams pipeline progress to a socket.io server. Module
// task transitions, failures, barrier summaries and the final run outcome
// are emitted as events on the configured namespace.
package report

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/vk/dnnflow/internal/config"
	"github.com/vk/dnnflow/internal/ctxlog"
	"github.com/vk/dnnflow/internal/dag"
	"github.com/vk/dnnflow/internal/training"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names emitted by the Reporter.
const (
	EventTask       = "task"
	EventValidation = "validation"
	EventRun        = "run"
)

// connectTimeout bounds the wait for the server's connect acknowledgement.
const connectTimeout = 15 * time.Second

type emitter interface {
	Emit(ev string, args ...any) error
}

// Reporter forwards engine and barrier events to a socket.io connection.
// It implements dag.Observer.
type Reporter struct {
	out    emitter
	close  func()
	logger *slog.Logger
}

var _ dag.Observer = (*Reporter)(nil)

// Dial connects to the socket.io server described by cfg and waits for the
// connection to be acknowledged.
func Dial(ctx context.Context, cfg config.Report) (*Reporter, error) {
	logger := ctxlog.FromContext(ctx).With("component", "reporter", "url", cfg.URL)
	logger.Info("Connecting progress reporter...")

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("report URL %q needs a scheme and a host", cfg.URL)
	}

	opts := socket.DefaultOptions()
	opts.SetPath(parsedURL.Path)
	opts.SetTransports(types.NewSet(transports.WebSocket))

	connectChan := make(chan error, 1)

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Reporter connected.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, ok := errs[0].(error)
		if !ok {
			err = fmt.Errorf("%v", errs[0])
		}
		logger.Debug("Reporter connect_error event fired.", "error", err)
		connectChan <- err
	})

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return newReporter(io, func() { io.Disconnect() }, logger), nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection: %w", ctx.Err())
	case <-time.After(connectTimeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", connectTimeout)
	}
}

func newReporter(out emitter, closeFn func(), logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{out: out, close: closeFn, logger: logger}
}

// TaskStarted implements dag.Observer. Only module tasks are reported.
func (r *Reporter) TaskStarted(ev dag.TaskEvent) {
	if ev.Task == nil || ev.Task.Module() == nil {
		return
	}
	r.emit(EventTask, taskPayload(ev))
}

// TaskFinished implements dag.Observer. Module tasks and every failure are
// reported.
func (r *Reporter) TaskFinished(ev dag.TaskEvent) {
	if ev.Err == nil && (ev.Task == nil || ev.Task.Module() == nil) {
		return
	}
	r.emit(EventTask, taskPayload(ev))
}

// Barrier is a training.BarrierHook reporting validation results.
func (r *Reporter) Barrier(_ context.Context, s training.Summary) {
	r.emit(EventValidation, map[string]any{
		"iteration":  s.Iteration,
		"accuracies": s.Accuracies,
		"elapsed_ms": s.Elapsed.Milliseconds(),
	})
}

// RunFinished reports the outcome of a whole submission.
func (r *Reporter) RunFinished(runID string, state dag.RunState, err error) {
	payload := map[string]any{"run_id": runID, "state": state.String()}
	if err != nil {
		payload["error"] = err.Error()
	}
	r.emit(EventRun, payload)
}

// Close disconnects from the server.
func (r *Reporter) Close() {
	if r.close != nil {
		r.close()
	}
}

func (r *Reporter) emit(event string, payload map[string]any) {
	if err := r.out.Emit(event, payload); err != nil {
		r.logger.Warn("Failed to emit progress event.", "event", event, "error", err)
	}
}

func taskPayload(ev dag.TaskEvent) map[string]any {
	payload := map[string]any{
		"run_id":    ev.RunID,
		"iteration": ev.Iteration,
		"path":      ev.Path,
		"state":     ev.State.String(),
		"worker":    ev.Worker,
		"time":      ev.Time.UTC().Format(time.RFC3339Nano),
	}
	if ev.Err != nil {
		payload["error"] = ev.Err.Error()
	}
	return payload
}
