package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"

	"go.uber.org/zap"

	"sdgateway/backend"
	"sdgateway/core"
	"sdgateway/metrics"
)

// ModelKind selects the model category of the model command.
type ModelKind string

const (
	ModelsSD            ModelKind = "sd"
	ModelsVAE           ModelKind = "vae"
	ModelsEmbeddings    ModelKind = "embeddings"
	ModelsHypernetworks ModelKind = "hypernetworks"
	ModelsLoras         ModelKind = "loras"
	ModelsTagger        ModelKind = "tagger"
)

// ModelQuery lists a model category, or switches the checkpoint or VAE
// when a name is given with ModelsSD or ModelsVAE.
type ModelQuery struct {
	Server *int
	Kind   ModelKind

	SDName  string
	VAEName string
}

// Messages of the administrative commands.
const (
	MsgStopSent       = "interrupt sent to server %d"
	MsgSwitching      = "switching model..."
	MsgSwitched       = "model switched"
	MsgChooseKind     = "please choose a model category"
	MsgOptionsApplied = "configuration applied"
	MsgTasksRunning   = "tasks are in progress, please wait for all of them to finish"
	MsgChooseList     = "please choose s1/s2/s3/s4/s5"
)

// Stop interrupts the current job on one backend.
func (o *Orchestrator) Stop(ctx context.Context, requestID string, serverIndex *int) Result {
	if res, ok := o.closed(); ok {
		return res
	}
	t := newTask(requestID, "", "sdstop")

	server, err := o.server(serverIndex)
	if err != nil {
		return o.fail(t, "interrupt failed", err)
	}
	t.server = server.Index

	if err := o.client.Interrupt(ctx, server); err != nil {
		return o.fail(t, "interrupt failed", err)
	}
	o.finish(t, metrics.StatusSuccess, "")
	return Result{Message: fmt.Sprintf(MsgStopSent, server.Index), Server: server.Index}
}

// Models lists models of one category or switches the loaded model.
func (o *Orchestrator) Models(ctx context.Context, requestID string, q ModelQuery) Result {
	if res, ok := o.closed(); ok {
		return res
	}
	t := newTask(requestID, "", "sdmodel")

	if q.Kind == "" {
		return Result{Message: MsgChooseKind, Server: -1}
	}
	server, err := o.server(q.Server)
	if err != nil {
		return o.fail(t, "model query failed", err)
	}
	t.server = server.Index

	if (q.Kind == ModelsSD || q.Kind == ModelsVAE) && (q.SDName != "" || q.VAEName != "") {
		return o.switchModel(ctx, t, server, q)
	}

	text, err := o.listModels(ctx, server, q.Kind)
	if err != nil {
		return o.fail(t, "model query failed", err)
	}
	o.finish(t, metrics.StatusSuccess, "")
	return Result{Message: text, Server: server.Index}
}

func (o *Orchestrator) switchModel(ctx context.Context, t *task, server backend.Server, q ModelQuery) Result {
	ticket, err := o.admit(false)
	if err != nil {
		o.finish(t, metrics.StatusRejected, err.Error())
		return Result{Message: o.pick(modelBusyPhrases), Server: -1}
	}
	defer o.release(ticket)

	o.notify(t.id, MsgSwitching)
	overrides := backend.OverrideSettings{SDModelCheckpoint: q.SDName, SDVAE: q.VAEName}
	if err := o.client.SwitchModel(ctx, server, overrides); err != nil {
		return o.fail(t, "model switch failed", err)
	}

	o.logger.Info("model switched",
		zap.String("request_id", t.id),
		zap.Int("server", server.Index),
		zap.String("checkpoint", q.SDName),
		zap.String("vae", q.VAEName))
	o.finish(t, metrics.StatusSuccess, "")
	return Result{Message: MsgSwitched, Server: server.Index}
}

func (o *Orchestrator) listModels(ctx context.Context, server backend.Server, kind ModelKind) (string, error) {
	var (
		models []backend.ModelInfo
		err    error
		empty  string
	)
	switch kind {
	case ModelsSD:
		models, err = o.client.SDModels(ctx, server)
		empty = "no SD models found"
	case ModelsVAE:
		models, err = o.client.SDVAEs(ctx, server)
		empty = "no SD VAE models found"
	case ModelsHypernetworks:
		models, err = o.client.Hypernetworks(ctx, server)
		empty = "no hypernetworks found"
	case ModelsLoras:
		models, err = o.client.Loras(ctx, server)
		empty = "no loras found"
	case ModelsEmbeddings:
		emb, err := o.client.Embeddings(ctx, server)
		if err != nil {
			return "", err
		}
		return formatEmbeddings(emb), nil
	case ModelsTagger:
		names, err := o.client.Interrogators(ctx, server)
		if err != nil {
			return "", err
		}
		if len(names) == 0 {
			return "no tagger models found", nil
		}
		lines := make([]string, len(names))
		for i, n := range names {
			lines[i] = "name: " + n
		}
		return strings.Join(lines, "\n\n"), nil
	default:
		return "", &core.ValidationError{Field: "model category", Message: fmt.Sprintf("unknown category %q", kind)}
	}
	if err != nil {
		return "", err
	}
	if len(models) == 0 {
		return empty, nil
	}

	entries := make([]string, len(models))
	for i, m := range models {
		entries[i] = fmt.Sprintf("name: %s\nfile: %s", m.DisplayName(), m.File())
	}
	return strings.Join(entries, "\n\n"), nil
}

func formatEmbeddings(emb *backend.Embeddings) string {
	if emb == nil || (len(emb.Loaded) == 0 && len(emb.Skipped) == 0) {
		return "no embeddings found"
	}
	var lines []string
	for _, name := range sortedKeys(emb.Loaded) {
		lines = append(lines, "loaded: "+name)
	}
	if len(lines) > 0 && len(emb.Skipped) > 0 {
		lines = append(lines, "")
	}
	for _, name := range sortedKeys(emb.Skipped) {
		lines = append(lines, "incompatible: "+name)
	}
	return strings.Join(lines, "\n")
}

func sortedKeys(m map[string]json.RawMessage) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SetOptions updates a backend's global settings. It needs the
// administrator switch and runs only while nothing else is in flight.
func (o *Orchestrator) SetOptions(ctx context.Context, requestID string, serverIndex *int, options json.RawMessage) Result {
	if res, ok := o.closed(); ok {
		return res
	}
	t := newTask(requestID, "", "sdset")

	if !o.cfg.AllowSetOptions {
		return o.fail(t, "", core.ErrFeatureDisabled("changing global settings"))
	}
	server, err := o.server(serverIndex)
	if err != nil {
		return o.fail(t, "setting options failed", err)
	}
	t.server = server.Index

	ticket, err := o.admit(true)
	if err != nil {
		o.finish(t, metrics.StatusRejected, err.Error())
		return Result{Message: MsgTasksRunning, Server: -1}
	}
	defer o.release(ticket)

	if err := o.client.SetOptions(ctx, server, options); err != nil {
		var be *core.BackendError
		if errors.As(err, &be) && be.StatusCode == http.StatusUnprocessableEntity {
			o.logger.Warn("options rejected by backend",
				zap.String("request_id", requestID),
				zap.Int("server", server.Index),
				zap.String("detail", be.Detail))
			o.finish(t, metrics.StatusError, core.MsgOptionsRejected)
			return Result{Message: core.MsgOptionsRejected, Server: server.Index}
		}
		return o.fail(t, "setting options failed", err)
	}
	o.finish(t, metrics.StatusSuccess, "")
	return Result{Message: MsgOptionsApplied, Server: server.Index}
}

// List answers the listing command. kind is s1 (servers), s2 (samplers),
// s3 (schedulers), s4 (refinement models) or s5 (tagger models); the
// plain names are accepted too.
func (o *Orchestrator) List(kind string) Result {
	if res, ok := o.closed(); ok {
		return res
	}

	var text string
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "s1", "servers":
		names := make([]string, o.pool.Len())
		for i := range names {
			names[i] = fmt.Sprintf("server %d", i)
		}
		text = "servers:\n" + strings.Join(names, ", ")
	case "s2", "samplers":
		text = "samplers:\n" + strings.Join(samplers, "\n")
	case "s3", "schedulers":
		text = "schedulers:\n" + strings.Join(schedulers, "\n")
	case "s4", "refiners":
		text = "refinement models:\n" + strings.Join(refinementModels, "\n")
	case "s5", "taggers":
		text = "tagger models:\n" + strings.Join(taggerModels, "\n")
	default:
		text = MsgChooseList
	}
	return Result{Message: text, Server: -1}
}
