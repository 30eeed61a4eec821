// Package distribution allocates a user population across behaviour paths.
//
// Three strategies exist, chosen by what the workflow defines: accounts,
// then segments, then flat path weights. Every strategy floors its shares and
// hands the whole shortfall to the largest bucket, so a plan always sums to
// the requested total.
package distribution

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/gyaneshwarpardhi/eventsynth/internal/workflow"
)

var (
	ErrInvalidTotal = errors.New("total users must be positive")
	ErrNoWeights    = errors.New("no positive weight to distribute users over")
)

// Strategy names the allocation model that produced a Plan.
type Strategy string

const (
	StrategyFlat      Strategy = "flat"
	StrategySegmented Strategy = "segmented"
	StrategyAccounts  Strategy = "accounts"
)

// Allocation is the number of users assigned to one path.
type Allocation struct {
	PathID string `json:"path_id"`
	Users  int    `json:"users"`
}

// AccountShare is the part of a path's allocation an account contributed.
type AccountShare struct {
	AccountID string `json:"account_id"`
	PathID    string `json:"path_id"`
	Users     int    `json:"users"`
}

// Plan is an ordered list of allocations. Account-based plans also record
// which account each user came from; the rounding remainder has no account.
type Plan struct {
	Strategy    Strategy       `json:"strategy"`
	Allocations []Allocation   `json:"allocations"`
	Accounts    []AccountShare `json:"accounts,omitempty"`
}

// AccountsFor returns the account shares of pathID in account order.
func (p Plan) AccountsFor(pathID string) []AccountShare {
	var out []AccountShare
	for _, s := range p.Accounts {
		if s.PathID == pathID {
			out = append(out, s)
		}
	}
	return out
}

// Total returns the sum of all allocations.
func (p Plan) Total() int {
	n := 0
	for _, a := range p.Allocations {
		n += a.Users
	}
	return n
}

// Users returns the allocation for pathID (0 when absent).
func (p Plan) Users(pathID string) int {
	for _, a := range p.Allocations {
		if a.PathID == pathID {
			return a.Users
		}
	}
	return 0
}

// Map returns the plan as a path → users map.
func (p Plan) Map() map[string]int {
	m := make(map[string]int, len(p.Allocations))
	for _, a := range p.Allocations {
		m[a.PathID] = a.Users
	}
	return m
}

// Weight is a flat path weight; a nil Percentage is excluded from the sum.
type Weight struct {
	PathID     string
	Percentage *float64
}

// ForWorkflow picks the strategy from def and computes the plan.
func ForWorkflow(def *workflow.Definition, total int) (Plan, error) {
	order := def.PathIDs()
	switch {
	case len(def.Accounts) > 0:
		return AccountBased(total, def.Accounts, def.Segments, flatWeights(def), order)
	case len(def.Segments) > 0:
		return Segmented(total, def.Segments, order)
	default:
		return Flat(total, flatWeights(def))
	}
}

func flatWeights(def *workflow.Definition) []Weight {
	out := make([]Weight, len(def.Paths))
	for i, p := range def.Paths {
		out[i] = Weight{PathID: p.ID, Percentage: p.Percentage}
	}
	return out
}

// Flat assigns floor(total × w / Σw) users to each path.
func Flat(total int, weights []Weight) (Plan, error) {
	if total <= 0 {
		return Plan{}, ErrInvalidTotal
	}
	b := newBuckets(nil)
	for _, w := range weights {
		b.ensure(w.PathID)
	}
	if err := b.addFlat(total, weights); err != nil {
		return Plan{}, err
	}
	return b.plan(StrategyFlat, total), nil
}

// Segmented splits total into segment populations and each segment across
// its path preferences. order fixes the path order of the plan; paths only
// named in preferences follow, sorted.
func Segmented(total int, segments []workflow.Segment, order []string) (Plan, error) {
	if total <= 0 {
		return Plan{}, ErrInvalidTotal
	}
	b := newBuckets(order)
	if err := b.addSegments(total, segments); err != nil {
		return Plan{}, err
	}
	return b.plan(StrategySegmented, total), nil
}

// AccountBased rescales account user counts to total, then runs each
// account's share through the segmented algorithm. An account without its
// own segments uses fallback, and flat weights when fallback is empty too.
func AccountBased(total int, accounts []workflow.Account, fallback []workflow.Segment, weights []Weight, order []string) (Plan, error) {
	if total <= 0 {
		return Plan{}, ErrInvalidTotal
	}
	sum := 0
	for _, a := range accounts {
		if a.UserCount > 0 {
			sum += a.UserCount
		}
	}
	if sum == 0 {
		return Plan{}, fmt.Errorf("accounts: %w", ErrNoWeights)
	}

	b := newBuckets(order)
	for _, w := range weights {
		b.ensure(w.PathID)
	}
	contributed := false
	for _, a := range accounts {
		if a.UserCount <= 0 {
			continue
		}
		scaled := int(math.Floor(float64(a.UserCount) / float64(sum) * float64(total)))
		var err error
		b.account = a.ID
		switch {
		case len(a.Segments) > 0:
			err = b.addSegments(scaled, a.Segments)
		case len(fallback) > 0:
			err = b.addSegments(scaled, fallback)
		default:
			err = b.addFlat(scaled, weights)
		}
		b.account = ""
		if errors.Is(err, ErrNoWeights) {
			continue
		}
		if err != nil {
			return Plan{}, fmt.Errorf("account %s: %w", a.ID, err)
		}
		contributed = true
	}
	if !contributed {
		return Plan{}, ErrNoWeights
	}
	return b.plan(StrategyAccounts, total), nil
}

// buckets accumulates per-path counts in a stable order.
type buckets struct {
	index  map[string]int
	allocs []Allocation
	extra  []string // paths first seen in preferences, appended sorted

	account string // set while an account's share is being added
	shares  []AccountShare
}

func newBuckets(order []string) *buckets {
	b := &buckets{index: make(map[string]int)}
	for _, id := range order {
		b.ensure(id)
	}
	return b
}

func (b *buckets) ensure(id string) int {
	if i, ok := b.index[id]; ok {
		return i
	}
	b.allocs = append(b.allocs, Allocation{PathID: id})
	b.index[id] = len(b.allocs) - 1
	return len(b.allocs) - 1
}

func (b *buckets) add(id string, n int) {
	if _, ok := b.index[id]; !ok {
		b.extra = append(b.extra, id)
	}
	b.allocs[b.ensure(id)].Users += n
	if b.account == "" || n <= 0 {
		return
	}
	for i := range b.shares {
		if b.shares[i].AccountID == b.account && b.shares[i].PathID == id {
			b.shares[i].Users += n
			return
		}
	}
	b.shares = append(b.shares, AccountShare{AccountID: b.account, PathID: id, Users: n})
}

func (b *buckets) addFlat(total int, weights []Weight) error {
	sum := 0.0
	for _, w := range weights {
		if w.Percentage != nil && *w.Percentage > 0 {
			sum += *w.Percentage
		}
	}
	if sum == 0 {
		return ErrNoWeights
	}
	for _, w := range weights {
		if w.Percentage == nil || *w.Percentage <= 0 {
			continue
		}
		share := float64(total) * *w.Percentage / sum
		b.add(w.PathID, int(math.Floor(share)))
	}
	return nil
}

func (b *buckets) addSegments(total int, segments []workflow.Segment) error {
	// Segment shares above 100% in total are scaled down so the plan never
	// overshoots the population.
	scale, pctSum := 1.0, 0.0
	for _, sg := range segments {
		if sg.Percentage > 0 {
			pctSum += sg.Percentage
		}
	}
	if pctSum > 100 {
		scale = 100 / pctSum
	}

	usable := false
	for _, sg := range segments {
		if sg.Percentage <= 0 {
			continue
		}
		prefs := sortedPrefs(sg.PathPreferences)
		prefSum := 0.0
		for _, p := range prefs {
			prefSum += p.weight
		}
		if prefSum == 0 {
			continue
		}
		usable = true
		pop := math.Floor(float64(total) * sg.Percentage * scale / 100)
		for _, p := range prefs {
			b.add(p.path, int(math.Floor(pop*p.weight/prefSum)))
		}
	}
	if !usable {
		return ErrNoWeights
	}
	return nil
}

type pref struct {
	path   string
	weight float64
}

func sortedPrefs(m map[string]float64) []pref {
	out := make([]pref, 0, len(m))
	for k, v := range m {
		if v > 0 {
			out = append(out, pref{k, v})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].path < out[j].path })
	return out
}

// plan orders the buckets, then applies the rounding correction: the whole
// shortfall goes to the largest count, first one wins on ties.
func (b *buckets) plan(s Strategy, total int) Plan {
	allocs := make([]Allocation, len(b.allocs))
	copy(allocs, b.allocs)
	if len(b.extra) > 1 {
		// Paths outside the declared order sit at the tail in insertion
		// order; sort that tail for deterministic output.
		tail := len(allocs) - len(b.extra)
		sort.SliceStable(allocs[tail:], func(i, j int) bool {
			return allocs[tail+i].PathID < allocs[tail+j].PathID
		})
	}
	if len(allocs) == 0 {
		return Plan{Strategy: s}
	}

	assigned, largest := 0, 0
	for i, a := range allocs {
		assigned += a.Users
		if a.Users > allocs[largest].Users {
			largest = i
		}
	}
	allocs[largest].Users += total - assigned
	return Plan{Strategy: s, Allocations: allocs, Accounts: b.shares}
}
