package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"sdgateway/backend"
	"sdgateway/billing"
	"sdgateway/core"
	"sdgateway/metrics"
	"sdgateway/moderation"
)

const actionInterrogate = "interrogation failed"

// Interrogate runs the tag command: it sends an image to the tagger and
// returns its tags. The four rating scores are sent as a notice.
func (o *Orchestrator) Interrogate(ctx context.Context, requestID string, opts InterrogateOptions) Result {
	if res, ok := o.closed(); ok {
		return res
	}
	t := newTask(requestID, opts.UserID, string(billing.OpInterrogate))

	if err := o.billing.Check(ctx, opts.UserID, billing.OpInterrogate); err != nil {
		return o.fail(t, actionInterrogate, err)
	}

	ticket, err := o.admit(false)
	if err != nil {
		o.logger.Info("interrogation rejected", zap.String("request_id", requestID), zap.Error(err))
		o.finish(t, metrics.StatusRejected, err.Error())
		return Result{Message: o.pick(tagBusyPhrases), Server: -1}
	}
	defer o.release(ticket)

	server, notice := o.pool.Select(ticket.Seq, opts.Server)
	t.server = server.Index
	o.notify(requestID, notice)

	image, err := resolveSource(opts.Image, opts.Quote)
	if err != nil {
		return o.fail(t, actionInterrogate, err)
	}
	o.notify(requestID, o.startNotice(ticket.Ahead, tagStartPhrases))

	req := backend.InterrogateRequest{
		Image:     image,
		Model:     o.cfg.Tagger.Model,
		Threshold: o.cfg.Tagger.Threshold,
	}
	if opts.Model != "" {
		req.Model = opts.Model
	}
	if opts.Threshold > 0 {
		req.Threshold = opts.Threshold
	}

	resp, err := o.client.Interrogate(ctx, server, req)
	if err != nil {
		return o.fail(t, actionInterrogate, err)
	}

	score := moderation.NewScore(resp.Caption.Rating)
	o.notify(requestID, score.String())

	tags := make([]string, 0, len(resp.Caption.Tags))
	for _, tag := range resp.Caption.Tags {
		tags = append(tags, tag.Name)
	}

	o.debit(ctx, t)
	o.finish(t, metrics.StatusSuccess, "")
	return Result{
		Message: "tags:\n" + strings.Join(tags, ", "),
		Server:  server.Index,
		Score:   &score,
		Tags:    tags,
	}
}

// moderate runs the moderation gate on a generated image. A failed
// moderation call blocks the image.
func (o *Orchestrator) moderate(ctx context.Context, t *task, server backend.Server, image string) (bool, *moderation.Score) {
	verdict, err := o.moderation.Evaluate(ctx, server, image)
	if err != nil {
		o.logger.Error("moderation failed",
			zap.String("request_id", t.id),
			zap.Int("server", server.Index),
			zap.Error(err))
		if o.metrics != nil {
			o.metrics.RecordModerationRejection("error")
		}
		o.notify(t.id, o.userMessage("moderation failed", err))
		return true, nil
	}

	score := verdict.Score
	if o.cfg.OutputMode != core.OutputImageOnly {
		o.notify(t.id, score.String())
	}
	if verdict.Failed && o.metrics != nil {
		o.metrics.RecordModerationRejection(verdict.Indicator)
	}
	return verdict.Failed, &score
}
