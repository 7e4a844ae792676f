// Package orchestrator runs the commands of the gateway: it admits a
// request, resolves its parameters, picks a backend, dispatches the call,
// moderates the result and reports progress through a Notifier.
//
// Every operation returns a Result instead of an error. Failures are
// logged with full detail and converted to a redacted, user-facing message,
// so a failing request never takes the process down.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"sdgateway/admission"
	"sdgateway/backend"
	"sdgateway/billing"
	"sdgateway/core"
	"sdgateway/db"
	"sdgateway/logging"
	"sdgateway/metrics"
	"sdgateway/moderation"
	"sdgateway/prompt"
)

// Notifier receives progress messages for a request while it runs.
type Notifier interface {
	Notify(requestID, message string)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(requestID, message string)

func (f NotifierFunc) Notify(requestID, message string) { f(requestID, message) }

type nopNotifier struct{}

func (nopNotifier) Notify(string, string) {}

// Backend is the subset of *backend.Client the orchestrator calls.
type Backend interface {
	Txt2Img(ctx context.Context, s backend.Server, p *backend.GenerationPayload) (*backend.GenerationResponse, error)
	Img2Img(ctx context.Context, s backend.Server, p *backend.GenerationPayload) (*backend.GenerationResponse, error)
	Interrogate(ctx context.Context, s backend.Server, req backend.InterrogateRequest) (*backend.InterrogateResponse, error)
	Interrupt(ctx context.Context, s backend.Server) error
	SetOptions(ctx context.Context, s backend.Server, options json.RawMessage) error
	SwitchModel(ctx context.Context, s backend.Server, o backend.OverrideSettings) error
	SDModels(ctx context.Context, s backend.Server) ([]backend.ModelInfo, error)
	SDVAEs(ctx context.Context, s backend.Server) ([]backend.ModelInfo, error)
	Hypernetworks(ctx context.Context, s backend.Server) ([]backend.ModelInfo, error)
	Loras(ctx context.Context, s backend.Server) ([]backend.ModelInfo, error)
	Embeddings(ctx context.Context, s backend.Server) (*backend.Embeddings, error)
	Interrogators(ctx context.Context, s backend.Server) ([]string, error)
}

// HistoryWriter queues task history rows. *db.AsyncWriter satisfies it.
type HistoryWriter interface {
	Write(data interface{}) bool
}

// Result is the terminal outcome of an operation.
type Result struct {
	// Message is the final text for the caller. It is empty when the
	// image is the whole answer.
	Message string

	Image []byte
	MIME  string

	// Suppressed is set when moderation withheld the image.
	Suppressed bool

	// Server is the backend index used, or -1 when none was contacted.
	Server int

	Score *moderation.Score
	Tags  []string
}

// Deps are the collaborators of an Orchestrator. Billing, Metrics, History
// and Notifier are optional.
type Deps struct {
	Pool       *backend.Pool
	Client     Backend
	Admission  *admission.Controller
	Prompts    *prompt.Pipeline
	Moderation *moderation.Gate
	Billing    *billing.Gate
	Metrics    *metrics.Collector
	History    HistoryWriter
	Notifier   Notifier
	Logger     *logging.Logger
}

// Orchestrator is safe for concurrent use; the only state shared between
// requests lives in the admission controller.
type Orchestrator struct {
	cfg        *core.Config
	pool       *backend.Pool
	client     Backend
	admission  *admission.Controller
	prompts    *prompt.Pipeline
	moderation *moderation.Gate
	billing    *billing.Gate
	metrics    *metrics.Collector
	history    HistoryWriter
	notifier   Notifier
	logger     *logging.Logger
	redactor   *logging.HostRedactor

	intn func(n int) int
}

// New wires an Orchestrator.
func New(cfg *core.Config, deps Deps) (*Orchestrator, error) {
	switch {
	case cfg == nil:
		return nil, errors.New("orchestrator: config is required")
	case deps.Pool == nil:
		return nil, errors.New("orchestrator: backend pool is required")
	case deps.Client == nil:
		return nil, errors.New("orchestrator: backend client is required")
	case deps.Admission == nil:
		return nil, errors.New("orchestrator: admission controller is required")
	case deps.Prompts == nil:
		return nil, errors.New("orchestrator: prompt pipeline is required")
	case deps.Moderation == nil:
		return nil, errors.New("orchestrator: moderation gate is required")
	case deps.Logger == nil:
		return nil, errors.New("orchestrator: logger is required")
	}

	billingGate := deps.Billing
	if billingGate == nil {
		billingGate, _ = billing.NewGate(core.BillingConfig{}, nil, deps.Logger)
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = nopNotifier{}
	}

	return &Orchestrator{
		cfg:        cfg,
		pool:       deps.Pool,
		client:     deps.Client,
		admission:  deps.Admission,
		prompts:    deps.Prompts,
		moderation: deps.Moderation,
		billing:    billingGate,
		metrics:    deps.Metrics,
		history:    deps.History,
		notifier:   notifier,
		logger:     deps.Logger.Named("orchestrator"),
		redactor:   logging.NewHostRedactor(deps.Pool.URLs()),
		intn:       rand.Intn,
	}, nil
}

// SetNotifier replaces the notifier. It must be called before the
// orchestrator serves requests.
func (o *Orchestrator) SetNotifier(n Notifier) {
	if n == nil {
		n = nopNotifier{}
	}
	o.notifier = n
}

func (o *Orchestrator) notify(requestID, message string) {
	if message == "" {
		return
	}
	o.notifier.Notify(requestID, message)
}

func (o *Orchestrator) pick(phrases []string) string {
	return phrases[o.intn(len(phrases))]
}

// closed reports whether closing mode is on, returning the tips to send.
func (o *Orchestrator) closed() (Result, bool) {
	if !o.cfg.Closing.Enabled {
		return Result{}, false
	}
	return Result{Message: o.cfg.Closing.Tips, Server: -1}, true
}

// admit takes an admission slot and publishes the active gauge.
func (o *Orchestrator) admit(exclusive bool) (*admission.Ticket, error) {
	var (
		ticket *admission.Ticket
		err    error
	)
	if exclusive {
		ticket, err = o.admission.AdmitExclusive()
	} else {
		ticket, err = o.admission.Admit()
	}
	if err == nil && o.metrics != nil {
		o.metrics.SetActive(o.admission.Active())
	}
	return ticket, err
}

func (o *Orchestrator) release(ticket *admission.Ticket) {
	ticket.Release()
	if o.metrics != nil {
		o.metrics.SetActive(o.admission.Active())
	}
}

// task accumulates what finish records about one request.
type task struct {
	id        string
	user      string
	operation string
	server    int
	start     time.Time
}

func newTask(id, user, operation string) *task {
	return &task{id: id, user: user, operation: operation, server: -1, start: time.Now()}
}

// finish records the task outcome in metrics and task history.
func (o *Orchestrator) finish(t *task, status, message string) {
	elapsed := time.Since(t.start)

	if o.metrics != nil {
		o.metrics.RecordTask(metrics.TaskRecord{
			ID:        t.id,
			Operation: t.operation,
			Server:    t.server,
			Status:    status,
			StartTime: t.start,
			Duration:  elapsed,
			ErrorMsg:  message,
		})
	}

	if o.history != nil {
		rec := db.TaskRecord{
			RequestID:   t.id,
			UserID:      t.user,
			Operation:   t.operation,
			ServerIndex: t.server,
			Status:      historyStatus(status),
			Message:     message,
			DurationMS:  elapsed.Milliseconds(),
		}
		if !o.history.Write(rec) {
			o.logger.Warn("task history buffer full, dropping record",
				zap.String("request_id", t.id))
		}
	}
}

func historyStatus(status string) string {
	switch status {
	case metrics.StatusSuccess:
		return db.StatusSucceeded
	case metrics.StatusRejected:
		return db.StatusRejected
	case metrics.StatusCensored:
		return db.StatusCensored
	default:
		return db.StatusFailed
	}
}

// fail logs err, records the task as failed and returns the redacted
// message for the caller.
func (o *Orchestrator) fail(t *task, action string, err error) Result {
	msg := o.userMessage(action, err)

	var be *core.BackendError
	if errors.As(err, &be) && o.metrics != nil {
		o.metrics.RecordBackendError(be.Server, be.Path)
	}

	o.logger.Error(action,
		zap.String("request_id", t.id),
		zap.String("operation", t.operation),
		zap.Int("server", t.server),
		zap.Error(err))

	status := metrics.StatusError
	if errors.Is(err, core.ErrInsufficientBalance) {
		status = metrics.StatusRejected
	}
	o.finish(t, status, msg)
	return Result{Message: msg, Server: t.server}
}

// userMessage is core.UserMessage with the configured backend hosts also
// removed, since net errors name them outside any URL.
func (o *Orchestrator) userMessage(action string, err error) string {
	return o.redactor.Redact(core.UserMessage(action, err))
}

// server resolves a required explicit backend index.
func (o *Orchestrator) server(index *int) (backend.Server, error) {
	if index == nil {
		return backend.Server{}, &core.ValidationError{Field: "server", Message: "a server index is required"}
	}
	s, ok := o.pool.Get(*index)
	if !ok {
		return backend.Server{}, &core.ValidationError{
			Field:   "server",
			Message: fmt.Sprintf("server %d does not exist", *index),
		}
	}
	return s, nil
}
