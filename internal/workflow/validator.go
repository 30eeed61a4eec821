package workflow

import (
	"fmt"
	"sort"
	"strings"
)

var elementActions = map[Action]bool{
	ActionClick:           true,
	ActionType:            true,
	ActionWaitForSelector: true,
	ActionHover:           true,
}

var knownActions = map[Action]bool{
	ActionNavigate:        true,
	ActionClick:           true,
	ActionType:            true,
	ActionWait:            true,
	ActionWaitForSelector: true,
	ActionScroll:          true,
	ActionHover:           true,
}

// Validate checks the definition for:
//   - Required names and at least one path
//   - Duplicate path ids
//   - Unknown actions and element actions without a selector
//   - Weights out of range and segment preferences for unknown paths
func Validate(def *Definition) error {
	var errs []string
	if def.Name == "" {
		errs = append(errs, "workflow_name is required")
	}
	if len(def.Paths) == 0 {
		errs = append(errs, "user_journey_paths must not be empty")
	}

	ids := make(map[string]int)
	for i, p := range def.Paths {
		if p.ID == "" {
			errs = append(errs, fmt.Sprintf("user_journey_paths[%d]: path_id is required", i))
			continue
		}
		if prev, ok := ids[p.ID]; ok {
			errs = append(errs, fmt.Sprintf("duplicate path_id %q (first seen at index %d, again at %d)", p.ID, prev, i))
		} else {
			ids[p.ID] = i
		}
		if p.Percentage != nil && (*p.Percentage < 0 || *p.Percentage > 100) {
			errs = append(errs, fmt.Sprintf("path %s: percentage %v outside 0-100", p.ID, *p.Percentage))
		}
		if len(p.Steps) == 0 {
			errs = append(errs, fmt.Sprintf("path %s: steps must not be empty", p.ID))
		}
		for j, st := range p.Steps {
			loc := fmt.Sprintf("path %s step %d", p.ID, j+1)
			if !knownActions[st.Action] {
				errs = append(errs, fmt.Sprintf("%s: unknown action %q", loc, st.Action))
			}
			if elementActions[st.Action] && st.Selector == "" {
				errs = append(errs, fmt.Sprintf("%s: %s requires a selector", loc, st.Action))
			}
			if st.Action == ActionNavigate && st.Value == "" {
				errs = append(errs, fmt.Sprintf("%s: navigate requires a value", loc))
			}
			if st.DelayMs != nil && *st.DelayMs < 0 {
				errs = append(errs, fmt.Sprintf("%s: delay_ms must not be negative", loc))
			}
		}
	}

	validateSegments(def.Segments, "user_segments", ids, &errs)
	for i, a := range def.Accounts {
		loc := fmt.Sprintf("accounts[%d]", i)
		if a.ID == "" {
			errs = append(errs, loc+": account_id is required")
		} else {
			loc = "account " + a.ID
		}
		if a.UserCount <= 0 {
			errs = append(errs, fmt.Sprintf("%s: user_count must be positive", loc))
		}
		validateSegments(a.Segments, loc+" user_segments", ids, &errs)
	}

	if len(errs) > 0 {
		return fmt.Errorf("workflow validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateSegments(segs []Segment, parent string, paths map[string]int, errs *[]string) {
	for i, sg := range segs {
		loc := fmt.Sprintf("%s[%d]", parent, i)
		if sg.ID != "" {
			loc = fmt.Sprintf("%s %s", parent, sg.ID)
		}
		if sg.Percentage < 0 || sg.Percentage > 100 {
			*errs = append(*errs, fmt.Sprintf("%s: percentage %v outside 0-100", loc, sg.Percentage))
		}
		keys := make([]string, 0, len(sg.PathPreferences))
		for pid := range sg.PathPreferences {
			keys = append(keys, pid)
		}
		sort.Strings(keys)
		for _, pid := range keys {
			w := sg.PathPreferences[pid]
			if _, ok := paths[pid]; !ok {
				*errs = append(*errs, fmt.Sprintf("%s: preference for unknown path %q", loc, pid))
			}
			if w < 0 {
				*errs = append(*errs, fmt.Sprintf("%s: negative preference for path %q", loc, pid))
			}
		}
	}
}
