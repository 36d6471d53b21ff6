package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeLabel(t *testing.T) {
	tests := []struct {
		name     string
		old, in  Label
		expected Label
	}{
		{"empty existing", Label{}, Label{"abbey", "classifier"}, Label{"abbey", "classifier"}},
		{"empty incoming", Label{"abbey", "classifier"}, Label{}, Label{"abbey", "classifier"}},
		{"same source", Label{"a", "filter"}, Label{"b", "filter"}, Label{"a|b", "filter"}},
		{"different source", Label{"a", "filter"}, Label{"b", "rule"}, Label{"a|b", "filter,rule"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, MergeLabel(tt.old, tt.in))
		})
	}
}

func TestLabelValues(t *testing.T) {
	assert.Nil(t, LabelValues(Label{}))
	assert.Equal(t, []string{"a", "b", ""}, LabelValues(Label{Value: "a|b|"}))
}
