package orchestrator

import (
	"regexp"
	"strconv"
	"strings"

	"sdgateway/core"
)

// Quote is the message a command replies to.
type Quote struct {
	// Images are the image sources attached to the quoted message, either
	// URLs or base64 data (optionally as data URIs).
	Images []string
}

// GenerateOptions are the parsed options of the generate command. Zero
// values mean "use the configured default".
type GenerateOptions struct {
	Prompt         string
	NegativePrompt *string

	// Img2Img requests image-to-image when non-nil. Its value is a URL, or
	// empty to take the image from Quote.
	Img2Img *string

	Steps     int
	CFGScale  float64
	Size      string // "WxH"
	Seed      int64
	Sampler   string
	Scheduler string
	Server    *int

	NoPositiveTags bool
	NoNegativeTags bool
	NoRefiner      bool
	NoTranslate    bool

	// One-shot checkpoint and VAE overrides.
	Model string
	VAE   string

	Quote  *Quote
	UserID string
}

// InterrogateOptions are the parsed options of the tag command.
type InterrogateOptions struct {
	Image     string
	Quote     *Quote
	Model     string
	Threshold float64
	Server    *int
	UserID    string
}

// params are the resolved generation settings.
type params struct {
	steps     int
	cfgScale  float64
	width     int
	height    int
	seed      int64
	sampler   string
	scheduler string
}

func resolveParams(cfg core.ImageConfig, opts GenerateOptions, img2img bool) (params, error) {
	p := params{
		steps:     cfg.Txt2ImgSteps,
		cfgScale:  cfg.CFGScale,
		width:     cfg.Width,
		height:    cfg.Height,
		seed:      -1,
		sampler:   cfg.Sampler,
		scheduler: cfg.Scheduler,
	}
	if img2img {
		p.steps = cfg.Img2ImgSteps
	}

	if opts.Steps < 0 {
		return p, &core.ValidationError{Field: "steps", Message: "must be positive"}
	}
	if opts.Steps > 0 {
		p.steps = opts.Steps
	}
	if cfg.MaxSteps > 0 && p.steps > cfg.MaxSteps {
		p.steps = cfg.MaxSteps
	}

	if opts.CFGScale < 0 {
		return p, &core.ValidationError{Field: "cfg scale", Message: "must be positive"}
	}
	if opts.CFGScale > 0 {
		p.cfgScale = opts.CFGScale
	}

	if opts.Size != "" {
		w, h, err := parseSize(opts.Size)
		if err != nil {
			return p, err
		}
		p.width, p.height = w, h
	}

	if opts.Seed != 0 {
		p.seed = opts.Seed
	}
	if opts.Sampler != "" {
		p.sampler = opts.Sampler
	}
	if opts.Scheduler != "" {
		p.scheduler = opts.Scheduler
	}
	return p, nil
}

// parseSize parses "WxH". Both sides must be positive integers.
func parseSize(s string) (int, int, error) {
	invalid := &core.ValidationError{Field: "size", Message: "expected WIDTHxHEIGHT, e.g. 512x768"}

	w, h, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "x")
	if !ok {
		return 0, 0, invalid
	}
	width, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil || width <= 0 {
		return 0, 0, invalid
	}
	height, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil || height <= 0 {
		return 0, 0, invalid
	}
	return width, height, nil
}

var protocolPattern = regexp.MustCompile(`(?i)^https?://`)

// resolveSource picks the image for img2img or tagging: a protocol-qualified
// URL is used verbatim, otherwise the first quoted image. Quoted data URIs
// are reduced to their base64 payload.
func resolveSource(value string, quote *Quote) (string, error) {
	if protocolPattern.MatchString(value) {
		return value, nil
	}
	if quote != nil {
		for _, img := range quote.Images {
			if img == "" {
				continue
			}
			if strings.HasPrefix(img, "data:") {
				if _, payload, ok := strings.Cut(img, ","); ok {
					return payload, nil
				}
			}
			return img, nil
		}
	}
	return "", core.ErrMissingImage
}
