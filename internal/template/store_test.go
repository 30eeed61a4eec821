package template_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gyaneshwarpardhi/eventsynth/internal/codec"
	"github.com/gyaneshwarpardhi/eventsynth/internal/template"
)

func tpl(path string, seq int, events ...codec.Record) template.Template {
	return template.Template{
		PathID:        path,
		SequenceOrder: seq,
		BaseURL:       "https://data.pendo.io/data/ptm.gif/key-1",
		QueryParams:   template.Params{{Key: "v", Value: "2.1"}, {Key: "ct", Value: "1"}, {Key: "jzb", Value: "abc"}},
		DecodedEvents: events,
		TimingDelayMs: 1000,
	}
}

func TestStore_OrderAndCounts(t *testing.T) {
	s := template.NewStore()
	s.Add(tpl("b_path", 1, codec.Record{"type": "load"}))
	s.Add(tpl("a_path", 0))
	s.Add(tpl("b_path", 0, codec.Record{"type": "click"}, codec.Record{"type": "track"}))

	if got := s.Paths(); strings.Join(got, ",") != "b_path,a_path" {
		t.Errorf("Paths() = %v, want insertion order", got)
	}
	if s.Len() != 2 || s.TemplateCount() != 3 {
		t.Errorf("Len/TemplateCount = %d/%d, want 2/3", s.Len(), s.TemplateCount())
	}
	if n := s.EventCount("b_path"); n != 3 {
		t.Errorf("EventCount(b_path) = %d, want 3", n)
	}
	ts := s.Templates("b_path")
	if ts[0].SequenceOrder != 0 || ts[1].SequenceOrder != 1 {
		t.Errorf("templates not sorted by sequence: %+v", ts)
	}
	if len(s.Templates("missing")) != 0 {
		t.Errorf("expected no templates for unknown path")
	}
}

func TestStore_SaveLoad(t *testing.T) {
	dir := t.TempDir()
	s := template.NewStore()
	s.Add(tpl("integration_first_path", 0, codec.Record{"type": "load", "browser_time": json.Number("1700000000000")}))
	s.Add(tpl("integration_first_path", 1, codec.Record{"type": "click"}))
	s.Add(tpl("drop_off_path", 0))

	path, err := s.Save(dir, "Onboarding Flow/v2")
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	if filepath.Base(path) != "templates_Onboarding_Flow_v2.json" {
		t.Errorf("file name = %s", filepath.Base(path))
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, field := range []string{`"path_id"`, `"sequence_order"`, `"base_url"`, `"query_params"`, `"decoded_events"`, `"timing_delay_ms"`} {
		if !strings.Contains(string(raw), field) {
			t.Errorf("persisted file missing field %s", field)
		}
	}
	if strings.Index(string(raw), `"v"`) > strings.Index(string(raw), `"jzb"`) {
		t.Errorf("query param order not preserved")
	}

	loaded, err := template.Load(dir, "Onboarding Flow/v2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if strings.Join(loaded.Paths(), ",") != "integration_first_path,drop_off_path" {
		t.Errorf("loaded paths = %v", loaded.Paths())
	}
	got := loaded.Templates("integration_first_path")
	if len(got) != 2 {
		t.Fatalf("loaded %d templates, want 2", len(got))
	}
	if got[0].DecodedEvents[0]["browser_time"] != json.Number("1700000000000") {
		t.Errorf("number not preserved: %#v", got[0].DecodedEvents[0]["browser_time"])
	}
	if v, _ := got[0].QueryParams.Get("jzb"); v != "abc" {
		t.Errorf("jzb param = %q", v)
	}
	if loaded.Templates("drop_off_path")[0].DecodedEvents == nil {
		t.Errorf("empty events should load as empty slice")
	}
}

func TestLoad_NotFound(t *testing.T) {
	_, err := template.Load(t.TempDir(), "nope")
	if !errors.Is(err, template.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTemplate_EventsCopyIsDeep(t *testing.T) {
	orig := tpl("p", 0, codec.Record{"props": map[string]any{"k": "v"}, "list": []any{"x"}})
	cp := orig.EventsCopy()
	cp[0]["visitor_id"] = "new"
	cp[0]["props"].(map[string]any)["k"] = "changed"
	cp[0]["list"].([]any)[0] = "y"

	ev := orig.DecodedEvents[0]
	if _, ok := ev["visitor_id"]; ok {
		t.Errorf("top-level mutation leaked into template")
	}
	if ev["props"].(map[string]any)["k"] != "v" || ev["list"].([]any)[0] != "x" {
		t.Errorf("nested mutation leaked into template: %v", ev)
	}
}

func TestParams(t *testing.T) {
	p := template.ParseQuery("v=2.1&ct=123&jzb=eJy%2Babc&ct=999&flag")
	if p.Encode() != "v=2.1&ct=123&jzb=eJy%2Babc&flag=" {
		t.Errorf("Encode() = %s", p.Encode())
	}
	if v, _ := p.Get("jzb"); v != "eJy+abc" {
		t.Errorf("jzb = %q", v)
	}
	q := p.With("ct", "456").With("new", "1")
	if q.Encode() != "v=2.1&ct=456&jzb=eJy%2Babc&flag=&new=1" {
		t.Errorf("With() = %s", q.Encode())
	}
	if v, _ := p.Get("ct"); v != "123" {
		t.Errorf("With mutated receiver: ct = %s", v)
	}

	b, err := json.Marshal(q)
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != `{"v":"2.1","ct":"456","jzb":"eJy+abc","flag":"","new":"1"}` {
		t.Errorf("MarshalJSON = %s", b)
	}
	var back template.Params
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatal(err)
	}
	if back.Encode() != q.Encode() {
		t.Errorf("JSON round trip changed order: %s", back.Encode())
	}
}
