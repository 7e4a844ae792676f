package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"sdgateway/core"
	"sdgateway/logging"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebUI API paths.
const (
	PathTxt2Img       = "/sdapi/v1/txt2img"
	PathImg2Img       = "/sdapi/v1/img2img"
	PathInterrupt     = "/sdapi/v1/interrupt"
	PathOptions       = "/sdapi/v1/options"
	PathSDModels      = "/sdapi/v1/sd-models"
	PathSDVAE         = "/sdapi/v1/sd-vae"
	PathEmbeddings    = "/sdapi/v1/embeddings"
	PathHypernetworks = "/sdapi/v1/hypernetworks"
	PathLoras         = "/sdapi/v1/loras"
	PathInterrogate   = "/tagger/v1/interrogate"
	PathInterrogators = "/tagger/v1/interrogators"
)

// DetailInvalidImage is the WebUI detail for an undecodable init image.
const DetailInvalidImage = core.DetailInvalidImage

// Client talks to SD-WebUI instances. It is stateless per server, so one
// Client serves the whole pool.
type Client struct {
	http   *resty.Client
	logger *logging.Logger
}

// NewClient builds a Client on top of httpClient, which carries the
// timeout and TLS policy.
func NewClient(httpClient *http.Client, logger *logging.Logger) (*Client, error) {
	if httpClient == nil {
		return nil, errors.New("backend: http client is required")
	}
	if logger == nil {
		return nil, errors.New("backend: logger is required")
	}

	rc := resty.NewWithClient(httpClient).
		SetHeader("Accept", "application/json").
		SetRetryCount(0)

	return &Client{http: rc, logger: logger.Named("backend")}, nil
}

// NewClientFromConfig is NewClient with the HTTP client derived from cfg.
func NewClientFromConfig(cfg *core.Config, logger *logging.Logger) (*Client, error) {
	return NewClient(core.GetHTTPClient(cfg, cfg.Timeout), logger)
}

// Txt2Img runs a text-to-image generation.
func (c *Client) Txt2Img(ctx context.Context, s Server, p *GenerationPayload) (*GenerationResponse, error) {
	var out GenerationResponse
	if err := c.postJSON(ctx, s, PathTxt2Img, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Img2Img runs an image-to-image generation. p.InitImages must be set.
func (c *Client) Img2Img(ctx context.Context, s Server, p *GenerationPayload) (*GenerationResponse, error) {
	if len(p.InitImages) == 0 {
		return nil, &core.ValidationError{Field: "init_images", Message: "img2img needs a source image"}
	}
	var out GenerationResponse
	if err := c.postJSON(ctx, s, PathImg2Img, p, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Interrogate scores an image with the tagger extension.
func (c *Client) Interrogate(ctx context.Context, s Server, req InterrogateRequest) (*InterrogateResponse, error) {
	var out InterrogateResponse
	if err := c.postJSON(ctx, s, PathInterrogate, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Interrupt stops the job currently running on s.
func (c *Client) Interrupt(ctx context.Context, s Server) error {
	return c.postJSON(ctx, s, PathInterrupt, nil, nil)
}

// SetOptions posts a raw options object to s. The WebUI answers 422 when
// the object fails validation; that surfaces as a BackendError with
// StatusCode 422.
func (c *Client) SetOptions(ctx context.Context, s Server, options json.RawMessage) error {
	if !json.Valid(options) {
		return &core.ValidationError{Field: "options", Message: "not valid JSON"}
	}
	return c.postJSON(ctx, s, PathOptions, options, nil)
}

// SwitchModel changes the loaded checkpoint and/or VAE persistently by
// issuing an empty img2img call with override settings that are not
// restored afterwards.
func (c *Client) SwitchModel(ctx context.Context, s Server, o OverrideSettings) error {
	if o.IsZero() {
		return &core.ValidationError{Field: "model", Message: "a checkpoint or VAE name is required"}
	}
	body := switchModelPayload{OverrideSettings: o}
	return c.postJSON(ctx, s, PathImg2Img, body, nil)
}

// SDModels lists checkpoints.
func (c *Client) SDModels(ctx context.Context, s Server) ([]ModelInfo, error) {
	return c.listModels(ctx, s, PathSDModels)
}

// SDVAEs lists VAEs.
func (c *Client) SDVAEs(ctx context.Context, s Server) ([]ModelInfo, error) {
	return c.listModels(ctx, s, PathSDVAE)
}

func (c *Client) Hypernetworks(ctx context.Context, s Server) ([]ModelInfo, error) {
	return c.listModels(ctx, s, PathHypernetworks)
}

func (c *Client) Loras(ctx context.Context, s Server) ([]ModelInfo, error) {
	return c.listModels(ctx, s, PathLoras)
}

func (c *Client) Embeddings(ctx context.Context, s Server) (*Embeddings, error) {
	var out Embeddings
	if err := c.getJSON(ctx, s, PathEmbeddings, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Interrogators lists the tagger models installed on s.
func (c *Client) Interrogators(ctx context.Context, s Server) ([]string, error) {
	var out interrogatorsResponse
	if err := c.getJSON(ctx, s, PathInterrogators, &out); err != nil {
		return nil, err
	}
	return out.Models, nil
}

// Ping checks that s answers the API. Used by the startup check.
func (c *Client) Ping(ctx context.Context, s Server) (time.Duration, error) {
	start := time.Now()
	_, err := c.SDModels(ctx, s)
	return time.Since(start), err
}

func (c *Client) listModels(ctx context.Context, s Server, path string) ([]ModelInfo, error) {
	var out []ModelInfo
	if err := c.getJSON(ctx, s, path, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) postJSON(ctx context.Context, s Server, path string, body, result interface{}) error {
	req := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json")
	if body != nil {
		req.SetBody(body)
	}
	if result != nil {
		req.SetResult(result)
	}

	start := time.Now()
	resp, err := req.Post(s.URL + path)
	return c.check(s, path, start, resp, err)
}

func (c *Client) getJSON(ctx context.Context, s Server, path string, result interface{}) error {
	start := time.Now()
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(result).
		Get(s.URL + path)
	return c.check(s, path, start, resp, err)
}

func (c *Client) check(s Server, path string, start time.Time, resp *resty.Response, err error) error {
	if err != nil {
		c.logger.Warn("backend request failed",
			zap.Int("server", s.Index),
			zap.String("path", path),
			zap.Duration("elapsed", time.Since(start)),
			zap.Error(err))
		return &core.BackendError{Server: s.Index, Path: path, Cause: err}
	}

	c.logger.Debug("backend response",
		zap.Int("server", s.Index),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode()),
		zap.Duration("elapsed", time.Since(start)))

	if !resp.IsError() {
		return nil
	}

	var eb errorBody
	_ = json.Unmarshal(resp.Body(), &eb)
	detail := eb.message()
	if detail == "" {
		detail = truncate(resp.String(), 200)
	}
	return &core.BackendError{
		Server:     s.Index,
		Path:       path,
		StatusCode: resp.StatusCode(),
		Detail:     detail,
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
