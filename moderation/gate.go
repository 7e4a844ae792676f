// Package moderation scores generated images with the tagger extension
// and decides whether they may be delivered.
package moderation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"sdgateway/backend"
	"sdgateway/core"
	"sdgateway/logging"

	"go.uber.org/zap"
)

// Interrogator is the backend call the gate depends on.
type Interrogator interface {
	Interrogate(ctx context.Context, s backend.Server, req backend.InterrogateRequest) (*backend.InterrogateResponse, error)
}

// Score is the four rating indicators rounded to 4 decimal places.
type Score struct {
	General      float64 `json:"general"`
	Sensitive    float64 `json:"sensitive"`
	Questionable float64 `json:"questionable"`
	Explicit     float64 `json:"explicit"`
}

// NewScore rounds a raw tagger rating.
func NewScore(r backend.Rating) Score {
	return Score{
		General:      round4(r.General),
		Sensitive:    round4(r.Sensitive),
		Questionable: round4(r.Questionable),
		Explicit:     round4(r.Explicit),
	}
}

// Value returns the named indicator.
func (s Score) Value(indicator string) (float64, bool) {
	switch indicator {
	case core.IndicatorSensitive:
		return s.Sensitive, true
	case core.IndicatorQuestionable:
		return s.Questionable, true
	case core.IndicatorExplicit:
		return s.Explicit, true
	}
	return 0, false
}

func (s Score) String() string {
	return fmt.Sprintf("general: %g\nsensitive: %g\nquestionable: %g\nexplicit: %g",
		s.General, s.Sensitive, s.Questionable, s.Explicit)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Verdict is the outcome of one evaluation.
type Verdict struct {
	Score  Score
	Failed bool

	// Indicator and Value identify the first indicator over threshold.
	Indicator string
	Value     float64

	// Checked lists the indicators compared, in order. Evaluation stops
	// at the first failure.
	Checked []string
}

// Check compares score against threshold for each indicator in order and
// stops at the first one strictly above it.
func Check(score Score, indicators []string, threshold float64) Verdict {
	v := Verdict{Score: score}
	for _, ind := range indicators {
		val, ok := score.Value(ind)
		if !ok {
			continue
		}
		v.Checked = append(v.Checked, ind)
		if val > threshold {
			v.Failed = true
			v.Indicator = ind
			v.Value = val
			break
		}
	}
	return v
}

// Gate runs moderation for generated images.
type Gate struct {
	client     Interrogator
	enabled    bool
	model      string
	indicators []string
	threshold  float64
	logger     *logging.Logger
}

// NewGate builds a Gate from the tagger configuration.
func NewGate(client Interrogator, cfg core.TaggerConfig, logger *logging.Logger) (*Gate, error) {
	if client == nil {
		return nil, errors.New("moderation: interrogator is required")
	}
	if logger == nil {
		return nil, errors.New("moderation: logger is required")
	}
	indicators := make([]string, len(cfg.Censor.Indicators))
	copy(indicators, cfg.Censor.Indicators)

	return &Gate{
		client:     client,
		enabled:    cfg.Censor.Enabled,
		model:      cfg.Model,
		indicators: indicators,
		threshold:  cfg.Censor.Score,
		logger:     logger.Named("moderation"),
	}, nil
}

// Enabled reports whether generated images are moderated.
func (g *Gate) Enabled() bool {
	return g.enabled
}

// Evaluate interrogates image (base64) on s at full sensitivity and checks
// the configured indicators.
func (g *Gate) Evaluate(ctx context.Context, s backend.Server, image string) (Verdict, error) {
	resp, err := g.client.Interrogate(ctx, s, backend.InterrogateRequest{
		Image:     image,
		Model:     g.model,
		Threshold: 1,
	})
	if err != nil {
		return Verdict{}, err
	}

	v := Check(NewScore(resp.Caption.Rating), g.indicators, g.threshold)
	if v.Failed {
		g.logger.Info("image rejected",
			zap.Int("server", s.Index),
			zap.String("indicator", v.Indicator),
			zap.Float64("value", v.Value),
			zap.Float64("threshold", g.threshold))
	}
	return v, nil
}
