package scale_test

import (
	"encoding/json"
	"testing"

	"github.com/nais/deploywatch/pkg/scale"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsBetweenInclusiveBounds(t *testing.T) {
	for _, testCase := range []struct {
		count     int
		min       int
		max       int
		unbounded bool
		expected  bool
	}{
		{count: 2, min: 2, max: 5, expected: true},
		{count: 5, min: 2, max: 5, expected: true},
		{count: 3, min: 2, max: 5, expected: true},
		{count: 1, min: 2, max: 5, expected: false},
		{count: 6, min: 2, max: 5, expected: false},
		{count: 0, min: 0, max: 0, expected: true},
		{count: 1, min: 0, max: 0, expected: false},
		{count: 1000, min: 1, unbounded: true, expected: true},
		{count: 1, min: 1, unbounded: true, expected: true},
		{count: 0, min: 1, unbounded: true, expected: false},
	} {
		actual := scale.IsBetween(testCase.count, testCase.min, testCase.max, testCase.unbounded)
		assert.Equal(t, testCase.expected, actual, "count=%d min=%d max=%d unbounded=%v", testCase.count, testCase.min, testCase.max, testCase.unbounded)
	}
}

func TestAtLeastOne(t *testing.T) {
	assert.Equal(t, 1, scale.Constraint{Min: 0, Max: 3}.AtLeastOne().Min)
	assert.Equal(t, 2, scale.Constraint{Min: 2, Max: 3}.AtLeastOne().Min)
	assert.False(t, scale.Constraint{Min: 0, Max: 3}.AtLeastOne().Satisfied(0))
}

func TestParseConstraint(t *testing.T) {
	for _, testCase := range []struct {
		input    string
		region   string
		expected scale.Constraint
		err      bool
	}{
		{input: "sfo1=1:3", region: "sfo1", expected: scale.Constraint{Min: 1, Max: 3}},
		{input: "bru1=0:auto", region: "bru1", expected: scale.Constraint{Min: 0, Unbounded: true}},
		{input: "iad1=2", region: "iad1", expected: scale.Constraint{Min: 2, Max: 2}},
		{input: " gru1 = 1 : 4", region: "gru1", expected: scale.Constraint{Min: 1, Max: 4}},
		{input: "sfo1", err: true},
		{input: "=1:2", err: true},
		{input: "sfo1=-1:2", err: true},
		{input: "sfo1=1:many", err: true},
		{input: "sfo1=x", err: true},
	} {
		region, c, err := scale.ParseConstraint(testCase.input)
		if testCase.err {
			assert.Error(t, err, testCase.input)
			continue
		}
		assert.NoError(t, err, testCase.input)
		assert.Equal(t, testCase.region, region)
		assert.Equal(t, testCase.expected, c)
	}
}

func TestParseConstraintsRejectsDuplicates(t *testing.T) {
	_, err := scale.ParseConstraints([]string{"sfo1=1", "sfo1=2"})
	assert.EqualError(t, err, `region "sfo1" specified more than once`)

	constraints, err := scale.ParseConstraints([]string{"sfo1=1", "bru1=0:auto"})
	assert.NoError(t, err)
	assert.Equal(t, []string{"bru1", "sfo1"}, constraints.Regions())
}

func TestLoadFile(t *testing.T) {
	constraints, err := scale.LoadFile("testdata/scale.yaml")
	require.NoError(t, err)

	assert.Equal(t, scale.Constraints{
		"sfo1": {Min: 1, Max: 3},
		"bru1": {Min: 0, Unbounded: true},
		"iad1": {Min: 2, Max: 2},
	}, constraints)

	_, err = scale.LoadFile("testdata/empty.yaml")
	assert.Error(t, err)

	_, err = scale.LoadFile("testdata/does-not-exist.yaml")
	assert.Error(t, err)
}

func TestConstraintJSON(t *testing.T) {
	data, err := json.Marshal(scale.Constraints{
		"bru1": {Min: 1, Unbounded: true},
		"sfo1": {Min: 1, Max: 2},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"bru1":{"min":1,"max":"auto"},"sfo1":{"min":1,"max":2}}`, string(data))

	c := scale.Constraint{}
	assert.Error(t, json.Unmarshal([]byte(`{"min":1,"max":"lots"}`), &c))
	assert.Error(t, json.Unmarshal([]byte(`{"min":-1,"max":2}`), &c))
}

func TestMerge(t *testing.T) {
	merged := scale.Merge(
		scale.Constraints{"sfo1": {Min: 1, Max: 1}, "bru1": {Min: 2, Max: 2}},
		scale.Constraints{"sfo1": {Min: 3, Max: 4}},
	)
	assert.Equal(t, scale.Constraints{"sfo1": {Min: 3, Max: 4}, "bru1": {Min: 2, Max: 2}}, merged)
}
