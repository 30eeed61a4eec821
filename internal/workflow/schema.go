// Package workflow describes the user journeys a simulation records and the
// population model used to replay them.
package workflow

// Action is the kind of browser step.
type Action string

const (
	ActionNavigate        Action = "navigate"
	ActionClick           Action = "click"
	ActionType            Action = "type"
	ActionWait            Action = "wait"
	ActionWaitForSelector Action = "wait_for_selector"
	ActionScroll          Action = "scroll"
	ActionHover           Action = "hover"
)

// DefaultStepDelayMs applies when a step leaves delay_ms unset.
const DefaultStepDelayMs = 1000

// Definition is the top-level workflow document.
type Definition struct {
	Name        string         `json:"workflow_name" yaml:"workflow_name"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Paths       []Path         `json:"user_journey_paths" yaml:"user_journey_paths"`
	Segments    []Segment      `json:"user_segments,omitempty" yaml:"user_segments"`
	Accounts    []Account      `json:"accounts,omitempty" yaml:"accounts"`
	Metadata    map[string]any `json:"metadata,omitempty" yaml:"metadata"`
}

// Path is one behaviour variant: a fixed sequence of steps.
type Path struct {
	ID          string   `json:"path_id" yaml:"path_id"`
	Percentage  *float64 `json:"percentage" yaml:"percentage"` // nil paths get no flat weight
	Description string   `json:"description,omitempty" yaml:"description"`
	Steps       []Step   `json:"steps" yaml:"steps"`
}

// Step is a single browser interaction.
type Step struct {
	Action      Action `json:"action" yaml:"action"`
	Selector    string `json:"selector,omitempty" yaml:"selector"`
	Value       string `json:"value,omitempty" yaml:"value"`
	DelayMs     *int   `json:"delay_ms,omitempty" yaml:"delay_ms"`
	TimeoutMs   int    `json:"timeout_ms,omitempty" yaml:"timeout_ms"`
	Description string `json:"description,omitempty" yaml:"description"`
}

// Delay returns the step delay in milliseconds, defaulting when unset.
func (s Step) Delay() int {
	if s.DelayMs == nil {
		return DefaultStepDelayMs
	}
	return *s.DelayMs
}

// Segment is a cohort with a share of the population and per-path weights.
type Segment struct {
	ID              string             `json:"segment_id" yaml:"segment_id"`
	Percentage      float64            `json:"percentage" yaml:"percentage"`
	PathPreferences map[string]float64 `json:"path_preferences" yaml:"path_preferences"`
	UserAttributes  map[string]any     `json:"user_attributes,omitempty" yaml:"user_attributes"`
}

// Account groups an absolute number of users with its own segments.
type Account struct {
	ID         string         `json:"account_id" yaml:"account_id"`
	Attributes map[string]any `json:"attributes,omitempty" yaml:"attributes"`
	UserCount  int            `json:"user_count" yaml:"user_count"`
	Segments   []Segment      `json:"user_segments,omitempty" yaml:"user_segments"`
}

// PathIDs returns path ids in declaration order.
func (d *Definition) PathIDs() []string {
	out := make([]string, len(d.Paths))
	for i, p := range d.Paths {
		out[i] = p.ID
	}
	return out
}

// Path looks a path up by id.
func (d *Definition) Path(id string) (Path, bool) {
	for _, p := range d.Paths {
		if p.ID == id {
			return p, true
		}
	}
	return Path{}, false
}
