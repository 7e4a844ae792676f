package prompt

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"sdgateway/core"
	"sdgateway/logging"
)

type stubTranslator struct {
	reply func(string) string
	err   error
	calls int
	last  string
}

func (s *stubTranslator) Translate(_ context.Context, text, source, target string) (string, error) {
	s.calls++
	s.last = text
	if s.err != nil {
		return "", s.err
	}
	return s.reply(text), nil
}

func newPipeline(t *testing.T, cfg core.PromptConfig, pronoun bool, tr *stubTranslator) *Pipeline {
	t.Helper()
	var translator interface {
		Translate(context.Context, string, string, string) (string, error)
	}
	if tr != nil {
		translator = tr
	}
	p, err := NewPipeline(cfg, pronoun, translator, logging.NewNop())
	if err != nil {
		t.Fatalf("NewPipeline() error: %v", err)
	}
	return p
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"half width", "1girl, solo,  smile", []string{"1girl", "solo", "smile"}},
		{"full width majority", "一个女孩，蓝天，  白云, sun", []string{"一个女孩", "蓝天", "白云", "sun"}},
		{"full width minority kept", "a, b, c，d", []string{"a", "b", "c，d"}},
		{"tie keeps full width", "a，b, c", []string{"a，b", "c"}},
		{"leading whitespace trimmed", "  masterpiece", []string{"masterpiece"}},
		{"no commas", "a cat", []string{"a cat"}},
		{"empty", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalize_FullWidthSpacingPreserved(t *testing.T) {
	got := Normalize("a, b, c，  d")
	if got[2] != "c，  d" {
		t.Errorf("segment = %q, want spacing after full-width comma kept", got[2])
	}
}

func TestApplyLength(t *testing.T) {
	parts := []string{"a", "b", "c", "d", "e"}

	tests := []struct {
		name       string
		cfg        core.PromptConfig
		want       []string
		wantNotice string
	}{
		{"disabled", core.PromptConfig{MaxLength: 0, ExcessPolicy: core.ExcessTruncateBack}, parts, ""},
		{"under limit", core.PromptConfig{MaxLength: 10, ExcessPolicy: core.ExcessTruncateBack}, parts, ""},
		{"warn", core.PromptConfig{MaxLength: 3, ExcessPolicy: core.ExcessWarn}, parts, NoticeTooLong},
		{"front", core.PromptConfig{MaxLength: 3, ExcessPolicy: core.ExcessTruncateFront}, []string{"c", "d", "e"}, ""},
		{"back", core.PromptConfig{MaxLength: 3, ExcessPolicy: core.ExcessTruncateBack}, []string{"a", "b", "c"}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t, tt.cfg, false, nil)
			got, notice := p.ApplyLength(parts)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("parts = %q, want %q", got, tt.want)
			}
			if notice != tt.wantNotice {
				t.Errorf("notice = %q, want %q", notice, tt.wantNotice)
			}
		})
	}
}

func TestTranslate_Disabled(t *testing.T) {
	tr := &stubTranslator{reply: func(s string) string { return s }}
	p := newPipeline(t, core.PromptConfig{}, false, tr)

	got, err := p.Translate(context.Background(), []string{"一个女孩", "smile"}, false)
	if err != nil {
		t.Fatal(err)
	}
	if got != "一个女孩,smile" || tr.calls != 0 {
		t.Errorf("got %q with %d calls", got, tr.calls)
	}
}

func TestTranslate_NoCJKSkipsTranslator(t *testing.T) {
	tr := &stubTranslator{reply: func(s string) string { return "x" }}
	p := newPipeline(t, core.PromptConfig{}, false, tr)

	got, err := p.Translate(context.Background(), []string{"1girl", "solo", "smile"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "1girl,solo,smile" {
		t.Errorf("got %q", got)
	}
	if tr.calls != 0 {
		t.Errorf("translator called %d times", tr.calls)
	}
}

func TestTranslate_ReplacesPositionally(t *testing.T) {
	tr := &stubTranslator{reply: func(string) string { return "a girl\nblue sky" }}
	p := newPipeline(t, core.PromptConfig{}, false, tr)

	got, err := p.Translate(context.Background(), []string{"masterpiece", "一个女孩", "solo", "蓝天"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "masterpiece,a girl,solo,blue sky" {
		t.Errorf("got %q", got)
	}
	if tr.last != "一个女孩\n蓝天" {
		t.Errorf("batched input = %q", tr.last)
	}
	if tr.calls != 1 {
		t.Errorf("calls = %d, want 1", tr.calls)
	}
}

func TestTranslate_LineBreakInsideSegment(t *testing.T) {
	tr := &stubTranslator{reply: func(in string) string {
		// One output line per input line, as a well-behaved translator does.
		lines := strings.Split(in, "\n")
		for i := range lines {
			lines[i] = "en" + string(rune('0'+i))
		}
		return strings.Join(lines, "\n") + "\n"
	}}
	p := newPipeline(t, core.PromptConfig{}, false, tr)

	got, err := p.Translate(context.Background(), []string{"一个女孩\n红色头发", "masterpiece", "蓝天\r\n白云"}, true)
	if err != nil {
		t.Fatalf("Translate() error: %v", err)
	}
	if tr.last != "一个女孩 红色头发\n蓝天 白云" {
		t.Errorf("batched input = %q", tr.last)
	}
	if got != "en0,masterpiece,en1" {
		t.Errorf("got %q", got)
	}

	res, err := p.Process(context.Background(), "一个女孩\n红色头发, masterpiece", true)
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if res.Text != "en0,masterpiece" {
		t.Errorf("Process() text = %q", res.Text)
	}
}

func TestTranslate_Misaligned(t *testing.T) {
	tr := &stubTranslator{reply: func(string) string { return "a girl and blue sky" }}
	p := newPipeline(t, core.PromptConfig{}, false, tr)

	_, err := p.Translate(context.Background(), []string{"一个女孩", "蓝天"}, true)
	if !errors.Is(err, core.ErrAlignment) {
		t.Fatalf("err = %v, want ErrAlignment", err)
	}
}

func TestTranslate_NoTranslator(t *testing.T) {
	p := newPipeline(t, core.PromptConfig{}, false, nil)

	if _, err := p.Translate(context.Background(), []string{"猫"}, true); !errors.Is(err, core.ErrTranslatorUnavailable) {
		t.Errorf("err = %v, want ErrTranslatorUnavailable", err)
	}
	if got, err := p.Translate(context.Background(), []string{"cat"}, true); err != nil || got != "cat" {
		t.Errorf("latin-only prompt without translator: %q, %v", got, err)
	}
}

func TestTranslate_PronounCorrection(t *testing.T) {
	tr := &stubTranslator{reply: func(string) string { return "she smiles\nyou hold your cup" }}
	p := newPipeline(t, core.PromptConfig{}, true, tr)

	got, err := p.Translate(context.Background(), []string{"她笑了", "你拿着你的杯子"}, true)
	if err != nil {
		t.Fatal(err)
	}
	if got != "she smiles,she hold her cup" {
		t.Errorf("got %q", got)
	}
}

func TestProcess(t *testing.T) {
	tr := &stubTranslator{reply: func(string) string { return "cat" }}
	p := newPipeline(t, core.PromptConfig{MaxLength: 2, ExcessPolicy: core.ExcessWarn}, false, tr)

	res, err := p.Process(context.Background(), "猫， sitting， window", true)
	if err != nil {
		t.Fatal(err)
	}
	if res.Text != "cat,sitting,window" {
		t.Errorf("Text = %q", res.Text)
	}
	if len(res.Notices) != 1 || res.Notices[0] != NoticeTooLong {
		t.Errorf("Notices = %q", res.Notices)
	}

	empty, err := p.Process(context.Background(), "", true)
	if err != nil || empty.Text != "" || tr.calls != 1 {
		t.Errorf("empty prompt: %+v, %v, calls=%d", empty, err, tr.calls)
	}
}

func TestHasCJK(t *testing.T) {
	if !HasCJK("a 猫") {
		t.Error("HasCJK(a 猫) = false")
	}
	if HasCJK("ねこ cat") {
		t.Error("kana counted as CJK ideograph")
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name       string
		def, user  string
		prepend    bool
		suppressed bool
		want       string
	}{
		{"prepend", "masterpiece,", "1girl", true, false, "masterpiece,1girl"},
		{"append", ",masterpiece", "1girl", false, false, "1girl,masterpiece"},
		{"suppressed", "masterpiece,", "1girl", true, true, "1girl"},
		{"no default", "", "1girl", true, false, "1girl"},
		{"empty user", "masterpiece", "", true, false, "masterpiece"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Merge(tt.def, tt.user, tt.prepend, tt.suppressed); got != tt.want {
				t.Errorf("Merge() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCorrectPronouns(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"her dress, you smile", "her dress, she smile"},
		{"his sword, your shield", "his sword, his shield"},
		{"you and yours", "they and theirs"},
		{"You look up", "They look up"},
		{"the youth", "the youth"},
	}
	for _, tt := range tests {
		if got := CorrectPronouns(tt.in); got != tt.want {
			t.Errorf("CorrectPronouns(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDetectGender(t *testing.T) {
	cases := map[string]Gender{
		"she and he":     Female,
		"he waves":       Male,
		"there is a cat": Neutral,
	}
	for in, want := range cases {
		if got := DetectGender(in); got != want {
			t.Errorf("DetectGender(%q) = %v, want %v", in, got, want)
		}
	}
	if !strings.Contains(Female.String(), "female") {
		t.Error("Female.String()")
	}
}
