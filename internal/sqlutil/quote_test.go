package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"posts", "`posts`"},
		{"author_id", "`author_id`"},
		{"select", "`select`"},         // reserved word
		{"first name", "`first name`"}, // space in name
		{"post`tag", "`post``tag`"},    // backtick in name
		{"", "``"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestQuoteANSIIdentifier(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"posts", `"posts"`},
		{"order", `"order"`},
		{`a"b`, `"a""b"`},
		{"", `""`},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteANSIIdentifier(tt.input))
		})
	}
}

func TestQualifiedIdentifier(t *testing.T) {
	assert.Equal(t, "`t`.`id`", QualifiedIdentifier(QuoteIdentifier, "t", "id"))
	assert.Equal(t, `"j1"."post_id"`, QualifiedIdentifier(QuoteANSIIdentifier, "j1", "post_id"))
	assert.Equal(t, "`id`", QualifiedIdentifier(QuoteIdentifier, "", "id"))
}
