package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sdgateway/backend"
	"sdgateway/billing"
	"sdgateway/core"
	"sdgateway/imageutil"
	"sdgateway/metrics"
	"sdgateway/prompt"
)

// Messages sent while a generation runs.
const (
	MsgModerating = "moderating the image..."
	MsgCensored   = "the image violates the content policy"
	MsgNoImage    = "the backend returned no image"

	actionGenerate = "image generation failed"
)

var errNoImage = errors.New(MsgNoImage)

// Generate runs the generate command.
func (o *Orchestrator) Generate(ctx context.Context, requestID string, opts GenerateOptions) Result {
	if res, ok := o.closed(); ok {
		return res
	}
	t := newTask(requestID, opts.UserID, string(billing.OpGenerate))
	log := o.logger.With(zap.String("request_id", requestID))

	if err := o.billing.Check(ctx, opts.UserID, billing.OpGenerate); err != nil {
		return o.fail(t, actionGenerate, err)
	}

	ticket, err := o.admit(false)
	if err != nil {
		log.Info("generation rejected", zap.Error(err))
		o.finish(t, metrics.StatusRejected, err.Error())
		return Result{Message: o.pick(drawBusyPhrases), Server: -1}
	}
	defer o.release(ticket)

	server, notice := o.pool.Select(ticket.Seq, opts.Server)
	t.server = server.Index
	o.notify(requestID, notice)

	var initImage string
	if opts.Img2Img != nil {
		initImage, err = resolveSource(*opts.Img2Img, opts.Quote)
		if err != nil {
			return o.fail(t, actionGenerate, err)
		}
	}

	p, err := resolveParams(o.cfg.Image, opts, initImage != "")
	if err != nil {
		return o.fail(t, actionGenerate, err)
	}
	o.notify(requestID, o.startNotice(ticket.Ahead, drawStartPhrases))

	translateOn := o.cfg.Translation.Enabled && !opts.NoTranslate
	positive, err := o.processPrompt(ctx, requestID, opts.Prompt, translateOn)
	if err != nil {
		return o.fail(t, actionGenerate, err)
	}
	var negativeInput string
	if opts.NegativePrompt != nil {
		negativeInput = *opts.NegativePrompt
	}
	negative, err := o.processPrompt(ctx, requestID, negativeInput, translateOn)
	if err != nil {
		return o.fail(t, actionGenerate, err)
	}
	positive = prompt.Merge(o.cfg.Image.Prompt, positive, o.cfg.Image.PromptPrepend, opts.NoPositiveTags)
	negative = prompt.Merge(o.cfg.Image.NegativePrompt, negative, o.cfg.Image.NegativePromptPrepend, opts.NoNegativeTags)

	var units []backend.ADetailerUnit
	if o.cfg.ADetailer.Enabled && !opts.NoRefiner {
		units, err = o.refinementUnits(ctx, requestID, translateOn)
		if err != nil {
			return o.fail(t, actionGenerate, err)
		}
	}

	payload := o.buildPayload(p, positive, negative, initImage, opts, units)
	log.Debug("generation payload",
		zap.Int("server", server.Index),
		zap.Int("steps", payload.Steps),
		zap.Int("width", payload.Width),
		zap.Int("height", payload.Height),
		zap.Bool("img2img", initImage != ""),
		zap.Int("refinement_units", len(units)))

	var resp *backend.GenerationResponse
	if initImage != "" {
		resp, err = o.client.Img2Img(ctx, server, payload)
	} else {
		resp, err = o.client.Txt2Img(ctx, server, payload)
	}
	if err != nil {
		return o.fail(t, actionGenerate, err)
	}
	if len(resp.Images) == 0 || resp.Images[0] == "" {
		return o.fail(t, actionGenerate, errNoImage)
	}
	encoded := resp.Images[0]

	o.describe(requestID, server, p, opts, positive, negative, payload)

	res := Result{Server: server.Index}
	status := metrics.StatusSuccess

	if o.moderation.Enabled() {
		o.notify(requestID, MsgModerating)
		blocked, score := o.moderate(ctx, t, server, encoded)
		res.Score = score
		if blocked {
			status = metrics.StatusCensored
			res.Message = MsgCensored
			if o.cfg.OutputMode != core.OutputVerbose {
				res.Suppressed = true
				o.debit(ctx, t)
				o.finish(t, status, MsgCensored)
				return res
			}
			o.notify(requestID, MsgCensored)
		}
	}

	img, err := imageutil.DecodeBase64(encoded)
	if err != nil {
		return o.fail(t, actionGenerate, err)
	}
	res.Image = img
	res.MIME = "image/png"
	if info, err := imageutil.Sniff(img); err == nil {
		res.MIME = info.MIME
	}

	o.debit(ctx, t)
	o.finish(t, status, res.Message)
	log.Info("generation finished",
		zap.Int("server", server.Index),
		zap.Int("bytes", len(img)),
		zap.Duration("elapsed", time.Since(t.start)))
	return res
}

// processPrompt runs one prompt through the pipeline and forwards notices.
func (o *Orchestrator) processPrompt(ctx context.Context, requestID, text string, translateOn bool) (string, error) {
	res, err := o.prompts.Process(ctx, text, translateOn)
	if translateOn && prompt.HasCJK(text) && o.metrics != nil {
		o.metrics.RecordTranslation(err == nil)
	}
	if err != nil {
		return "", err
	}
	for _, n := range res.Notices {
		o.notify(requestID, n)
	}
	return res.Text, nil
}

// refinementUnits processes every configured refinement model's prompts
// concurrently. Units keep the configured order.
func (o *Orchestrator) refinementUnits(ctx context.Context, requestID string, translateOn bool) ([]backend.ADetailerUnit, error) {
	models := o.cfg.ADetailer.Models
	units := make([]backend.ADetailerUnit, len(models))

	g, gctx := errgroup.WithContext(ctx)
	for i, m := range models {
		i, m := i, m
		g.Go(func() error {
			pos, err := o.processPrompt(gctx, requestID, m.Prompt, translateOn)
			if err != nil {
				return fmt.Errorf("refinement model %s: %w", m.Name, err)
			}
			neg, err := o.processPrompt(gctx, requestID, m.NegativePrompt, translateOn)
			if err != nil {
				return fmt.Errorf("refinement model %s: %w", m.Name, err)
			}
			units[i] = backend.ADetailerUnit{
				Model:          m.Name,
				Prompt:         pos,
				NegativePrompt: neg,
				Confidence:     m.Confidence,
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return units, nil
}

func (o *Orchestrator) buildPayload(p params, positive, negative, initImage string, opts GenerateOptions, units []backend.ADetailerUnit) *backend.GenerationPayload {
	payload := &backend.GenerationPayload{
		Prompt:         positive,
		NegativePrompt: negative,
		Seed:           p.seed,
		SamplerName:    p.sampler,
		Scheduler:      p.scheduler,
		Steps:          p.steps,
		Width:          p.width,
		Height:         p.height,
		RestoreFaces:   o.cfg.Image.RestoreFaces,
		SaveImages:     o.cfg.Image.SaveImages,
	}
	if positive != "" || negative != "" {
		cfg := p.cfgScale
		payload.CFGScale = &cfg
	}
	if overrides := (backend.OverrideSettings{SDModelCheckpoint: opts.Model, SDVAE: opts.VAE}); !overrides.IsZero() {
		payload.OverrideSettings = &overrides
	}
	if initImage != "" {
		payload.InitImages = []string{initImage}
	}
	if len(units) > 0 {
		payload.AlwaysOnScripts = backend.ADetailerScript(units)
	}
	return payload
}

// describe sends the output-detail notices for key and verbose modes.
func (o *Orchestrator) describe(requestID string, server backend.Server, p params, opts GenerateOptions, positive, negative string, payload *backend.GenerationPayload) {
	switch o.cfg.OutputMode {
	case core.OutputKeyInfo:
		o.notify(requestID, fmt.Sprintf("using server %d", server.Index))
		o.notify(requestID, fmt.Sprintf("steps: %d\nsize: %dx%d\ncfg scale: %g\nsampler: %s\nscheduler: %s",
			p.steps, p.width, p.height, p.cfgScale, p.sampler, p.scheduler))
		if opts.Prompt != "" {
			o.notify(requestID, "positive prompt:\n"+positive)
		}
		if opts.NegativePrompt != nil && *opts.NegativePrompt != "" {
			o.notify(requestID, "negative prompt:\n"+negative)
		}
	case core.OutputVerbose:
		o.notify(requestID, fmt.Sprintf("using server %d", server.Index))
		data, err := json.MarshalIndent(payload, "", "    ")
		if err != nil {
			o.logger.Warn("failed to render payload", zap.Error(err))
			return
		}
		o.notify(requestID, string(data))
	}
}

func (o *Orchestrator) debit(ctx context.Context, t *task) {
	if err := o.billing.Debit(ctx, t.user, billing.Operation(t.operation)); err != nil {
		o.logger.Warn("debit failed",
			zap.String("request_id", t.id),
			zap.String("user", t.user),
			zap.Error(err))
	}
}

// startNotice is a random phrase for the first task in flight, otherwise
// the number of tasks ahead.
func (o *Orchestrator) startNotice(ahead int64, phrases []string) string {
	if ahead == 0 {
		return o.pick(phrases)
	}
	return fmt.Sprintf("working on it, but there are %d tasks ahead of you...", ahead)
}
