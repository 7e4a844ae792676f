package backend

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"sdgateway/core"
	"sdgateway/logging"
)

type recorded struct {
	method      string
	path        string
	contentType string
	accept      string
	body        []byte
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, Server, func() []recorded) {
	t.Helper()
	var (
		mu    sync.Mutex
		calls []recorded
	)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, recorded{
			method:      r.Method,
			path:        r.URL.Path,
			contentType: r.Header.Get("Content-Type"),
			accept:      r.Header.Get("Accept"),
			body:        body,
		})
		mu.Unlock()
		handler(w, r)
	}))
	t.Cleanup(ts.Close)

	client, err := NewClient(&http.Client{Timeout: 5 * time.Second}, logging.NewNop())
	if err != nil {
		t.Fatalf("NewClient() error: %v", err)
	}
	return client, Server{Index: 2, URL: ts.URL}, func() []recorded {
		mu.Lock()
		defer mu.Unlock()
		return append([]recorded(nil), calls...)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestClient_Txt2Img(t *testing.T) {
	client, srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"images": []string{"aGVsbG8="}, "info": "{}"})
	})

	cfg := 7.0
	resp, err := client.Txt2Img(context.Background(), srv, &GenerationPayload{
		Prompt:      "a cat",
		Seed:        -1,
		SamplerName: "Euler a",
		Scheduler:   "Automatic",
		Steps:       20,
		CFGScale:    &cfg,
		Width:       512,
		Height:      512,
	})
	if err != nil {
		t.Fatalf("Txt2Img() error: %v", err)
	}
	if len(resp.Images) != 1 || resp.Images[0] != "aGVsbG8=" {
		t.Errorf("Images = %v", resp.Images)
	}

	c := calls()[0]
	if c.method != http.MethodPost || c.path != PathTxt2Img {
		t.Errorf("call = %s %s", c.method, c.path)
	}
	if c.contentType != "application/json" || c.accept != "application/json" {
		t.Errorf("headers content-type=%q accept=%q", c.contentType, c.accept)
	}

	var sent map[string]interface{}
	if err := json.Unmarshal(c.body, &sent); err != nil {
		t.Fatal(err)
	}
	for _, absent := range []string{"negative_prompt", "override_settings", "init_images", "alwayson_scripts", "restore_faces"} {
		if _, ok := sent[absent]; ok {
			t.Errorf("payload unexpectedly has %q", absent)
		}
	}
	if sent["seed"].(float64) != -1 || sent["cfg_scale"].(float64) != 7 {
		t.Errorf("payload = %v", sent)
	}
}

func TestClient_Img2ImgRequiresSource(t *testing.T) {
	client, srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("backend should not be called")
	})

	_, err := client.Img2Img(context.Background(), srv, &GenerationPayload{})
	var ve *core.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("err = %v, want ValidationError", err)
	}
	if len(calls()) != 0 {
		t.Errorf("made %d calls", len(calls()))
	}
}

func TestClient_ErrorDetail(t *testing.T) {
	client, srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "HTTPException", "detail": DetailInvalidImage})
	})

	_, err := client.Img2Img(context.Background(), srv, &GenerationPayload{InitImages: []string{"x"}})
	var be *core.BackendError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want BackendError", err)
	}
	if be.Detail != DetailInvalidImage || be.StatusCode != 500 || be.Server != 2 {
		t.Errorf("BackendError = %+v", be)
	}
}

func TestClient_SetOptionsValidation(t *testing.T) {
	client, srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"detail": []map[string]string{{"msg": "value is not a valid integer"}},
		})
	})

	if err := client.SetOptions(context.Background(), srv, json.RawMessage(`{bad`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if len(calls()) != 0 {
		t.Fatalf("malformed JSON reached backend")
	}

	err := client.SetOptions(context.Background(), srv, json.RawMessage(`{"CLIP_stop_at_last_layers":"x"}`))
	var be *core.BackendError
	if !errors.As(err, &be) || be.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("err = %v, want 422 BackendError", err)
	}
	if calls()[0].path != PathOptions {
		t.Errorf("path = %s", calls()[0].path)
	}
}

func TestClient_GetOmitsContentType(t *testing.T) {
	client, srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]string{
			{"title": "anything-v5 [abc]", "model_name": "anything-v5", "filename": `C:\sd\models\anything-v5.safetensors`},
		})
	})

	models, err := client.SDModels(context.Background(), srv)
	if err != nil {
		t.Fatalf("SDModels() error: %v", err)
	}
	if len(models) != 1 || models[0].File() != "anything-v5.safetensors" || models[0].DisplayName() != "anything-v5" {
		t.Errorf("models = %+v", models)
	}

	c := calls()[0]
	if c.method != http.MethodGet || c.contentType != "" || c.accept != "application/json" {
		t.Errorf("GET headers: method=%s content-type=%q accept=%q", c.method, c.contentType, c.accept)
	}
}

func TestClient_SwitchModel(t *testing.T) {
	client, srv, calls := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{"images": []string{}})
	})

	if err := client.SwitchModel(context.Background(), srv, OverrideSettings{}); err == nil {
		t.Fatal("expected error with no model names")
	}

	if err := client.SwitchModel(context.Background(), srv, OverrideSettings{SDVAE: "kl-f8.pt"}); err != nil {
		t.Fatalf("SwitchModel() error: %v", err)
	}
	body := string(calls()[0].body)
	if !strings.Contains(body, `"override_settings_restore_afterwards":false`) || !strings.Contains(body, `"sd_vae":"kl-f8.pt"`) {
		t.Errorf("body = %s", body)
	}
	if strings.Contains(body, "sd_model_checkpoint") {
		t.Errorf("body has unset checkpoint: %s", body)
	}
}

func TestClient_InterrogateKeepsTagOrder(t *testing.T) {
	client, srv, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"caption":{"general":0.81234,"sensitive":0.1,"questionable":0.02,"explicit":0.001,"1girl":0.99,"solo":0.95,"smile":0.5}}`)
	})

	resp, err := client.Interrogate(context.Background(), srv, InterrogateRequest{Image: "x", Model: "wd14-vit-v2-git", Threshold: 0.35})
	if err != nil {
		t.Fatalf("Interrogate() error: %v", err)
	}
	if resp.Caption.Rating.General != 0.81234 || resp.Caption.Rating.Explicit != 0.001 {
		t.Errorf("rating = %+v", resp.Caption.Rating)
	}
	var names []string
	for _, tag := range resp.Caption.Tags {
		names = append(names, tag.Name)
	}
	if got := strings.Join(names, ","); got != "1girl,solo,smile" {
		t.Errorf("tags = %s", got)
	}
}

func TestCaption_ResponseShapes(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		general float64
		tags    string
		wantErr error
	}{
		{
			name:    "flat",
			body:    `{"caption":{"general":0.5,"1girl":0.9,"solo":0.8}}`,
			general: 0.5,
			tags:    "1girl,solo",
		},
		{
			name: "null caption",
			body: `{"caption":null}`,
		},
		{
			name:    "nested rating and tag",
			body:    `{"caption":{"rating":{"general":0.7,"explicit":0.01},"tag":{"1girl":0.9,"general":0.6,"smile":0.4}}}`,
			general: 0.7,
			tags:    "1girl,general,smile",
		},
		{
			name:    "null inside nested form",
			body:    `{"caption":{"rating":null,"tag":{"solo":0.8}}}`,
			tags:    "solo",
		},
		{
			name:    "unknown nested object",
			body:    `{"caption":{"scores":{"1girl":0.9}}}`,
			wantErr: ErrUnsupportedCaption,
		},
		{
			name:    "string score",
			body:    `{"caption":{"1girl":"high"}}`,
			wantErr: ErrUnsupportedCaption,
		},
		{
			name:    "caption is a list",
			body:    `{"caption":["1girl"]}`,
			wantErr: ErrUnsupportedCaption,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var resp InterrogateResponse
			err := json.Unmarshal([]byte(tt.body), &resp)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Unmarshal() error = %v, want %v", err, tt.wantErr)
				}
				if !strings.Contains(err.Error(), "unsupported tagger response format") {
					t.Errorf("error text = %q", err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal() error: %v", err)
			}
			if resp.Caption.Rating.General != tt.general {
				t.Errorf("general = %v, want %v", resp.Caption.Rating.General, tt.general)
			}
			var names []string
			for _, tag := range resp.Caption.Tags {
				names = append(names, tag.Name)
			}
			if got := strings.Join(names, ","); got != tt.tags {
				t.Errorf("tags = %q, want %q", got, tt.tags)
			}
		})
	}
}

func TestClient_NetworkError(t *testing.T) {
	client, err := NewClient(&http.Client{Timeout: time.Second}, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	err = client.Interrupt(context.Background(), Server{Index: 0, URL: "http://127.0.0.1:1"})
	var be *core.BackendError
	if !errors.As(err, &be) || be.Cause == nil {
		t.Fatalf("err = %v, want BackendError with cause", err)
	}
}
