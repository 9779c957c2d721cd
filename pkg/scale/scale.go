// Package scale holds the per-region instance model shared by the scale submission
// and the convergence verification.
package scale

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Unbounded is the textual form of a constraint without an upper bound.
const Unbounded = "auto"

// Constraint is the desired instance range for a single region.
// The platform rejects min > max; the client never checks it.
type Constraint struct {
	Min       int
	Max       int
	Unbounded bool
}

// Constraints maps region identifiers to their desired instance range.
type Constraints map[string]Constraint

// Snapshot is a point-in-time running instance count per region.
type Snapshot map[string]int

// IsBetween reports whether count lies within [min, max], inclusive.
// An unbounded range has no upper limit.
func IsBetween(count, min, max int, unbounded bool) bool {
	if count < min {
		return false
	}
	return unbounded || count <= max
}

func (c Constraint) Satisfied(count int) bool {
	return IsBetween(count, c.Min, c.Max, c.Unbounded)
}

// AtLeastOne returns a copy of the constraint whose minimum is raised to one.
func (c Constraint) AtLeastOne() Constraint {
	if c.Min < 1 {
		c.Min = 1
	}
	return c
}

func (c Constraint) String() string {
	if c.Unbounded {
		return fmt.Sprintf("%d..%s", c.Min, Unbounded)
	}
	return fmt.Sprintf("%d..%d", c.Min, c.Max)
}

// Regions returns the region identifiers in lexical order.
func (c Constraints) Regions() []string {
	regions := make([]string, 0, len(c))
	for region := range c {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

// Regions returns the observed region identifiers in lexical order.
func (s Snapshot) Regions() []string {
	regions := make([]string, 0, len(s))
	for region := range s {
		regions = append(regions, region)
	}
	sort.Strings(regions)
	return regions
}

type wireConstraint struct {
	Min int             `json:"min"`
	Max json.RawMessage `json:"max"`
}

func (c Constraint) MarshalJSON() ([]byte, error) {
	if c.Unbounded {
		return json.Marshal(map[string]any{"min": c.Min, "max": Unbounded})
	}
	return json.Marshal(map[string]any{"min": c.Min, "max": c.Max})
}

func (c *Constraint) UnmarshalJSON(data []byte) error {
	var wire wireConstraint
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}

	c.Min = wire.Min
	c.Max = 0
	c.Unbounded = false

	raw := strings.TrimSpace(string(wire.Max))
	switch {
	case len(raw) == 0 || raw == "null":
		c.Max = wire.Min
	case raw == `"`+Unbounded+`"`:
		c.Unbounded = true
	default:
		max, err := strconv.Atoi(strings.Trim(raw, `"`))
		if err != nil {
			return fmt.Errorf("max must be a number or %q; found %s", Unbounded, raw)
		}
		c.Max = max
	}

	if c.Min < 0 || (!c.Unbounded && c.Max < 0) {
		return fmt.Errorf("instance counts must not be negative")
	}

	return nil
}
