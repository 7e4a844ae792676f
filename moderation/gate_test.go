package moderation

import (
	"context"
	"errors"
	"reflect"
	"testing"

	"sdgateway/backend"
	"sdgateway/core"
	"sdgateway/logging"
)

type fakeInterrogator struct {
	rating backend.Rating
	err    error
	got    backend.InterrogateRequest
}

func (f *fakeInterrogator) Interrogate(_ context.Context, _ backend.Server, req backend.InterrogateRequest) (*backend.InterrogateResponse, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &backend.InterrogateResponse{Caption: backend.Caption{Rating: f.rating}}, nil
}

func TestCheck_ShortCircuits(t *testing.T) {
	score := Score{Sensitive: 0.2, Questionable: 0.9, Explicit: 0.1}

	v := Check(score, []string{core.IndicatorSensitive, core.IndicatorQuestionable, core.IndicatorExplicit}, 0.5)
	if !v.Failed || v.Indicator != core.IndicatorQuestionable || v.Value != 0.9 {
		t.Fatalf("verdict = %+v", v)
	}
	want := []string{core.IndicatorSensitive, core.IndicatorQuestionable}
	if !reflect.DeepEqual(v.Checked, want) {
		t.Errorf("Checked = %v, want %v", v.Checked, want)
	}
}

func TestCheck_Table(t *testing.T) {
	score := Score{Sensitive: 0.2, Questionable: 0.9, Explicit: 0.5}

	tests := []struct {
		name       string
		indicators []string
		threshold  float64
		wantFail   bool
	}{
		{"watch list hits", []string{"sensitive", "questionable"}, 0.5, true},
		{"only low indicators", []string{"sensitive"}, 0.5, false},
		{"equal is not over", []string{"explicit"}, 0.5, false},
		{"empty watch list", nil, 0.1, false},
		{"unknown indicator ignored", []string{"general"}, 0.0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if v := Check(score, tt.indicators, tt.threshold); v.Failed != tt.wantFail {
				t.Errorf("Failed = %v, want %v (%+v)", v.Failed, tt.wantFail, v)
			}
		})
	}
}

func TestNewScore_Rounds(t *testing.T) {
	s := NewScore(backend.Rating{General: 0.123456, Sensitive: 0.99996, Questionable: 0.00004, Explicit: 0.5})
	want := Score{General: 0.1235, Sensitive: 1, Questionable: 0, Explicit: 0.5}
	if s != want {
		t.Errorf("NewScore() = %+v, want %+v", s, want)
	}
}

func TestGate_Evaluate(t *testing.T) {
	fake := &fakeInterrogator{rating: backend.Rating{General: 0.1, Sensitive: 0.7, Questionable: 0.1, Explicit: 0.05}}
	gate, err := NewGate(fake, core.TaggerConfig{
		Model:     "wd14-vit-v2-git",
		Threshold: 0.35,
		Censor: core.CensorConfig{
			Enabled:    true,
			Indicators: []string{core.IndicatorSensitive},
			Score:      0.5,
		},
	}, logging.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	if !gate.Enabled() {
		t.Fatal("Enabled() = false")
	}

	v, err := gate.Evaluate(context.Background(), backend.Server{}, "aW1n")
	if err != nil {
		t.Fatal(err)
	}
	if !v.Failed || v.Indicator != core.IndicatorSensitive {
		t.Errorf("verdict = %+v", v)
	}
	if fake.got.Threshold != 1 || fake.got.Model != "wd14-vit-v2-git" || fake.got.Image != "aW1n" {
		t.Errorf("request = %+v", fake.got)
	}
}

func TestGate_EvaluateError(t *testing.T) {
	gate, _ := NewGate(&fakeInterrogator{err: errors.New("down")}, core.TaggerConfig{}, logging.NewNop())
	if _, err := gate.Evaluate(context.Background(), backend.Server{}, "x"); err == nil {
		t.Fatal("expected error")
	}
}
