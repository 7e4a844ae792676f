// Package prompt turns user prompt text into what the backend receives:
// segment normalization, a length policy, optional translation of CJK
// segments, pronoun correction and merging with configured defaults.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"sdgateway/core"
	"sdgateway/logging"
	"sdgateway/translate"

	"go.uber.org/zap"
)

// NoticeTooLong is emitted under the warn policy.
const NoticeTooLong = "prompt length exceeds limit"

// cjk is the range of unified ideographs treated as needing translation.
var cjk = &unicode.RangeTable{
	R16: []unicode.Range16{{Lo: 0x4E00, Hi: 0x9FA5, Stride: 1}},
}

// Result is a processed prompt plus any notices for the caller.
type Result struct {
	Text    string
	Notices []string
}

// Pipeline holds the prompt policy. It is safe for concurrent use.
type Pipeline struct {
	translator     translate.Translator
	maxLength      int
	policy         string
	pronounCorrect bool
	logger         *logging.Logger
}

// NewPipeline builds a Pipeline. translator may be nil, in which case
// any request that asks for translation fails with
// core.ErrTranslatorUnavailable.
func NewPipeline(cfg core.PromptConfig, pronounCorrect bool, translator translate.Translator, logger *logging.Logger) (*Pipeline, error) {
	if logger == nil {
		return nil, errors.New("prompt: logger is required")
	}
	policy := cfg.ExcessPolicy
	if policy == "" {
		policy = core.ExcessWarn
	}
	return &Pipeline{
		translator:     translator,
		maxLength:      cfg.MaxLength,
		policy:         policy,
		pronounCorrect: pronounCorrect,
		logger:         logger.Named("prompt"),
	}, nil
}

// Process runs the whole pipeline on one prompt.
func (p *Pipeline) Process(ctx context.Context, text string, translateOn bool) (Result, error) {
	var res Result
	if text == "" {
		return res, nil
	}

	parts := Normalize(text)
	parts, notice := p.ApplyLength(parts)
	if notice != "" {
		res.Notices = append(res.Notices, notice)
	}

	out, err := p.Translate(ctx, parts, translateOn)
	if err != nil {
		return res, err
	}
	res.Text = out
	return res, nil
}

// ApplyLength enforces the segment limit. A limit of zero disables it.
func (p *Pipeline) ApplyLength(parts []string) ([]string, string) {
	excess := len(parts) - p.maxLength
	if p.maxLength <= 0 || excess <= 0 {
		return parts, ""
	}

	switch p.policy {
	case core.ExcessTruncateFront:
		return parts[excess:], ""
	case core.ExcessTruncateBack:
		return parts[:p.maxLength], ""
	default:
		return parts, NoticeTooLong
	}
}

// Translate joins parts back into a prompt. When enabled, segments that
// contain CJK ideographs are sent to the translator in one newline-joined
// batch and replaced by position. A reply with a different number of lines
// is rejected with core.ErrAlignment rather than guessed at.
func (p *Pipeline) Translate(ctx context.Context, parts []string, enabled bool) (string, error) {
	if !enabled {
		return Join(parts), nil
	}

	var (
		src     []string
		indices []int
	)
	for i, part := range parts {
		if HasCJK(part) {
			// One segment must stay one line of the batch.
			src = append(src, lineBreaks.Replace(part))
			indices = append(indices, i)
		}
	}
	if len(src) == 0 {
		return Join(parts), nil
	}
	if p.translator == nil {
		return "", core.ErrTranslatorUnavailable
	}

	translated, err := p.translator.Translate(ctx, strings.Join(src, "\n"), "zh", "en")
	if err != nil {
		return "", err
	}
	if p.pronounCorrect {
		translated = CorrectPronouns(translated)
	}

	lines := strings.Split(strings.TrimRight(strings.ReplaceAll(translated, "\r\n", "\n"), "\n"), "\n")
	if len(lines) != len(src) {
		p.logger.Warn("translation misaligned",
			zap.Int("sent", len(src)),
			zap.Int("received", len(lines)))
		return "", fmt.Errorf("%w: sent %d, got %d", core.ErrAlignment, len(src), len(lines))
	}

	out := make([]string, len(parts))
	copy(out, parts)
	for i, idx := range indices {
		out[idx] = strings.TrimSpace(lines[i])
	}
	p.logger.Debug("translated prompt", zap.Int("segments", len(src)))
	return Join(out), nil
}

var lineBreaks = strings.NewReplacer("\r\n", " ", "\n", " ", "\r", " ")

// HasCJK reports whether s contains a CJK unified ideograph.
func HasCJK(s string) bool {
	for _, r := range s {
		if unicode.Is(cjk, r) {
			return true
		}
	}
	return false
}

// Merge combines a configured default prompt with the user's. suppressed
// or an empty default returns user unchanged; otherwise the default goes in
// front when prepend is set and behind it when not. The two are
// concatenated as-is, so defaults normally end (or start) with a comma.
func Merge(def, user string, prepend, suppressed bool) string {
	if suppressed || def == "" {
		return user
	}
	if prepend {
		return def + user
	}
	return user + def
}
