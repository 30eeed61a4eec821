package workflow_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gyaneshwarpardhi/eventsynth/internal/workflow"
)

const sampleYAML = `
workflow_name: onboarding
description: First week of a new customer
user_journey_paths:
  - path_id: integration_first_path
    percentage: 50
    steps:
      - action: navigate
        value: /settings/integrations
        delay_ms: 2000
      - action: click
        selector: '[data-pendo-id="copy-snippet-btn"]'
  - path_id: dashboard_explorer_path
    percentage: 35
    steps:
      - action: navigate
        value: /dashboard
  - path_id: drop_off_path
    steps:
      - action: wait
        delay_ms: 0
user_segments:
  - segment_id: admins
    percentage: 40
    path_preferences:
      integration_first_path: 3
      drop_off_path: 1
`

func TestParse_YAML(t *testing.T) {
	def, err := workflow.Parse([]byte(sampleYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := workflow.Validate(def); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if got := strings.Join(def.PathIDs(), ","); got != "integration_first_path,dashboard_explorer_path,drop_off_path" {
		t.Errorf("PathIDs = %s", got)
	}
	p, ok := def.Path("drop_off_path")
	if !ok {
		t.Fatal("drop_off_path not found")
	}
	if p.Percentage != nil {
		t.Errorf("missing percentage should stay nil, got %v", *p.Percentage)
	}
	if p.Steps[0].Delay() != 0 {
		t.Errorf("explicit zero delay lost: %d", p.Steps[0].Delay())
	}
	first, _ := def.Path("integration_first_path")
	if first.Steps[0].Delay() != 2000 || first.Steps[1].Delay() != workflow.DefaultStepDelayMs {
		t.Errorf("delays = %d,%d", first.Steps[0].Delay(), first.Steps[1].Delay())
	}
	if def.Segments[0].PathPreferences["integration_first_path"] != 3 {
		t.Errorf("segment preferences = %v", def.Segments[0].PathPreferences)
	}
}

func TestLoad_JSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wf.json")
	body := `{"workflow_name":"wf","user_journey_paths":[{"path_id":"p1","percentage":100,"steps":[{"action":"navigate","value":"/"}]}],
	"accounts":[{"account_id":"acme","user_count":30,"user_segments":[{"segment_id":"s","percentage":100,"path_preferences":{"p1":1}}]}]}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	def, err := workflow.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := workflow.Validate(def); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if len(def.Accounts) != 1 || def.Accounts[0].UserCount != 30 || len(def.Accounts[0].Segments) != 1 {
		t.Errorf("accounts = %+v", def.Accounts)
	}
}

func TestValidate_Errors(t *testing.T) {
	pct := 150.0
	neg := -5
	def := &workflow.Definition{
		Paths: []workflow.Path{
			{ID: "a", Percentage: &pct, Steps: []workflow.Step{{Action: "teleport"}}},
			{ID: "a", Steps: []workflow.Step{{Action: workflow.ActionClick, DelayMs: &neg}}},
			{ID: "b"},
		},
		Segments: []workflow.Segment{{ID: "s", Percentage: 40, PathPreferences: map[string]float64{"ghost": 1}}},
		Accounts: []workflow.Account{{ID: "acme"}},
	}
	err := workflow.Validate(def)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{
		"workflow_name is required",
		`duplicate path_id "a"`,
		"percentage 150 outside 0-100",
		`unknown action "teleport"`,
		"click requires a selector",
		"delay_ms must not be negative",
		"path b: steps must not be empty",
		`preference for unknown path "ghost"`,
		"account acme: user_count must be positive",
	} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error missing %q:\n%v", want, err)
		}
	}
}
