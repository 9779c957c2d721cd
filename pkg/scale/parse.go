package scale

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/ghodss/yaml"
)

type scaleFile struct {
	Scale Constraints `json:"scale"`
}

// ParseConstraint parses a region constraint on the form REGION=MIN:MAX,
// where MAX may be "auto". REGION=N is shorthand for REGION=N:N.
func ParseConstraint(s string) (string, Constraint, error) {
	region, bounds, ok := strings.Cut(s, "=")
	region = strings.TrimSpace(region)
	if !ok || len(region) == 0 {
		return "", Constraint{}, fmt.Errorf("scale %q: expected REGION=MIN[:MAX]", s)
	}

	minStr, maxStr, ranged := strings.Cut(bounds, ":")

	min, err := strconv.Atoi(strings.TrimSpace(minStr))
	if err != nil || min < 0 {
		return "", Constraint{}, fmt.Errorf("scale %q: minimum must be a non-negative integer", s)
	}

	c := Constraint{Min: min, Max: min}
	if !ranged {
		return region, c, nil
	}

	maxStr = strings.TrimSpace(maxStr)
	if maxStr == Unbounded {
		c.Unbounded = true
		c.Max = 0
		return region, c, nil
	}

	c.Max, err = strconv.Atoi(maxStr)
	if err != nil || c.Max < 0 {
		return "", Constraint{}, fmt.Errorf("scale %q: maximum must be a non-negative integer or %q", s, Unbounded)
	}

	return region, c, nil
}

// ParseConstraints parses several constraints. A region given twice is an error.
func ParseConstraints(values []string) (Constraints, error) {
	constraints := make(Constraints, len(values))
	for _, value := range values {
		region, c, err := ParseConstraint(value)
		if err != nil {
			return nil, err
		}
		if _, exists := constraints[region]; exists {
			return nil, fmt.Errorf("region %q specified more than once", region)
		}
		constraints[region] = c
	}
	return constraints, nil
}

// LoadFile reads constraints from the "scale" section of a YAML or JSON document.
func LoadFile(path string) (Constraints, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%s: open file: %w", path, err)
	}

	doc := &scaleFile{}
	err = yaml.Unmarshal(data, doc)
	if err != nil {
		errMsg := strings.ReplaceAll(err.Error(), "\n", ": ")
		return nil, fmt.Errorf("%s: %s", path, errMsg)
	}

	if len(doc.Scale) == 0 {
		return nil, fmt.Errorf("%s: no regions in scale section", path)
	}

	return doc.Scale, nil
}

// Merge returns the union of both constraint sets; entries in override win.
func Merge(base, override Constraints) Constraints {
	merged := make(Constraints, len(base)+len(override))
	for region, c := range base {
		merged[region] = c
	}
	for region, c := range override {
		merged[region] = c
	}
	return merged
}
