package backend

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// GenerationPayload is the body of txt2img and img2img. Fields tagged
// omitempty are sent only when set; the rest are always present.
type GenerationPayload struct {
	Prompt           string                `json:"prompt,omitempty"`
	NegativePrompt   string                `json:"negative_prompt,omitempty"`
	Seed             int64                 `json:"seed"`
	SamplerName      string                `json:"sampler_name"`
	Scheduler        string                `json:"scheduler"`
	Steps            int                   `json:"steps"`
	CFGScale         *float64              `json:"cfg_scale,omitempty"`
	Width            int                   `json:"width"`
	Height           int                   `json:"height"`
	RestoreFaces     bool                  `json:"restore_faces,omitempty"`
	SaveImages       bool                  `json:"save_images"`
	OverrideSettings *OverrideSettings     `json:"override_settings,omitempty"`
	InitImages       []string              `json:"init_images,omitempty"`
	AlwaysOnScripts  map[string]ScriptArgs `json:"alwayson_scripts,omitempty"`
}

// OverrideSettings swaps checkpoint or VAE for a single call.
type OverrideSettings struct {
	SDModelCheckpoint string `json:"sd_model_checkpoint,omitempty"`
	SDVAE             string `json:"sd_vae,omitempty"`
}

// IsZero reports whether neither override is set.
func (o OverrideSettings) IsZero() bool {
	return o.SDModelCheckpoint == "" && o.SDVAE == ""
}

// ScriptArgs is the positional argument list of an always-on script.
type ScriptArgs struct {
	Args []interface{} `json:"args"`
}

// ADetailerUnit is one refinement pass inside the ADetailer args list.
type ADetailerUnit struct {
	Model          string  `json:"ad_model"`
	Prompt         string  `json:"ad_prompt,omitempty"`
	NegativePrompt string  `json:"ad_negative_prompt,omitempty"`
	Confidence     float64 `json:"ad_confidence"`
}

// ADetailerScript builds the alwayson_scripts entry for the given units.
// The two leading booleans are "enable" and "skip img2img".
func ADetailerScript(units []ADetailerUnit) map[string]ScriptArgs {
	args := make([]interface{}, 0, len(units)+2)
	args = append(args, true, false)
	for _, u := range units {
		args = append(args, u)
	}
	return map[string]ScriptArgs{"ADetailer": {Args: args}}
}

type switchModelPayload struct {
	OverrideSettings                  OverrideSettings `json:"override_settings"`
	OverrideSettingsRestoreAfterwards bool             `json:"override_settings_restore_afterwards"`
}

// GenerationResponse is returned by txt2img and img2img. Images are base64.
type GenerationResponse struct {
	Images     []string        `json:"images"`
	Parameters json.RawMessage `json:"parameters"`
	Info       string          `json:"info"`
}

// InterrogateRequest is the tagger payload.
type InterrogateRequest struct {
	Image     string  `json:"image"`
	Model     string  `json:"model"`
	Threshold float64 `json:"threshold"`
}

// InterrogateResponse is the tagger reply.
type InterrogateResponse struct {
	Caption Caption `json:"caption"`
}

// Tag is one interrogated tag with its confidence.
type Tag struct {
	Name  string
	Score float64
}

// Rating holds the four content rating scores.
type Rating struct {
	General      float64
	Sensitive    float64
	Questionable float64
	Explicit     float64
}

var ratingKeys = map[string]bool{
	"general":      true,
	"sensitive":    true,
	"questionable": true,
	"explicit":     true,
}

// Caption is the tagger score object. The four rating keys come
// first; every other key is a tag, kept in response order.
type Caption struct {
	Rating Rating
	Tags   []Tag
}

// ErrUnsupportedCaption is returned for tagger responses whose caption is
// neither the flat score object nor the nested rating/tag form.
var ErrUnsupportedCaption = errors.New("unsupported tagger response format")

// UnmarshalJSON accepts the flat form {"general": 0.8, "1girl": 0.9, ...}
// and the nested form {"rating": {...}, "tag": {...}} of newer tagger
// versions. A null caption leaves c empty.
func (c *Caption) UnmarshalJSON(data []byte) error {
	if isNull(data) {
		return nil
	}
	return eachScore(data, func(key string, raw json.RawMessage) error {
		if raw[0] == '{' {
			switch key {
			case "rating":
				return eachScore(raw, func(k string, v json.RawMessage) error {
					return c.set(k, v, true)
				})
			case "tag":
				return eachScore(raw, func(k string, v json.RawMessage) error {
					return c.set(k, v, false)
				})
			}
			return fmt.Errorf("%w: nested object %q", ErrUnsupportedCaption, key)
		}
		return c.set(key, raw, ratingKeys[key])
	})
}

// set stores one score, as a rating when rating is set and key names one,
// otherwise as a tag.
func (c *Caption) set(key string, raw json.RawMessage, rating bool) error {
	var score float64
	if err := json.Unmarshal(raw, &score); err != nil {
		return fmt.Errorf("%w: %q is not a score", ErrUnsupportedCaption, key)
	}
	if !rating {
		c.Tags = append(c.Tags, Tag{Name: key, Score: score})
		return nil
	}
	switch key {
	case "general":
		c.Rating.General = score
	case "sensitive":
		c.Rating.Sensitive = score
	case "questionable":
		c.Rating.Questionable = score
	case "explicit":
		c.Rating.Explicit = score
	}
	return nil
}

// eachScore walks a JSON object in document order, skipping null values.
func eachScore(data []byte, fn func(key string, raw json.RawMessage) error) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("%w: expected object, got %v", ErrUnsupportedCaption, tok)
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := tok.(string)

		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("caption %q: %w", key, err)
		}
		raw = bytes.TrimSpace(raw)
		if len(raw) == 0 || isNull(raw) {
			continue
		}
		if err := fn(key, raw); err != nil {
			return err
		}
	}
	_, err = dec.Token()
	return err
}

func isNull(data []byte) bool {
	return bytes.Equal(bytes.TrimSpace(data), []byte("null"))
}

// ModelInfo describes a checkpoint, VAE, hypernetwork or LoRA.
type ModelInfo struct {
	Title     string `json:"title"`
	ModelName string `json:"model_name"`
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	Path      string `json:"path"`
}

// DisplayName prefers model_name, then name.
func (m ModelInfo) DisplayName() string {
	if m.ModelName != "" {
		return m.ModelName
	}
	return m.Name
}

// File returns the file's base name. The WebUI often runs on Windows, so
// both separators are handled.
func (m ModelInfo) File() string {
	p := m.Filename
	if p == "" {
		p = m.Path
	}
	for i := len(p) - 1; i >= 0; i-- {
		if p[i] == '\\' || p[i] == '/' {
			return p[i+1:]
		}
	}
	return p
}

// Embeddings lists textual inversion embeddings by load status.
type Embeddings struct {
	Loaded  map[string]json.RawMessage `json:"loaded"`
	Skipped map[string]json.RawMessage `json:"skipped"`
}

type interrogatorsResponse struct {
	Models []string `json:"models"`
}

// errorBody is the FastAPI error shape. Detail is a string for
// HTTPException and a list for 422 validation errors.
type errorBody struct {
	Detail interface{} `json:"detail"`
	Error  string      `json:"error"`
}

func (e errorBody) message() string {
	if s, ok := e.Detail.(string); ok && s != "" {
		return s
	}
	if e.Error != "" {
		return e.Error
	}
	return ""
}
