package sqlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain table name", "workout_logs", "`workout_logs`"},
		{"column name", "user_id", "`user_id`"},
		{"embedded backtick is doubled", "a`b", "`a``b`"},
		{"empty string", "", "``"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, QuoteIdentifier(tt.input))
		})
	}
}

func TestIsValidIdentifier(t *testing.T) {
	tests := []struct {
		name  string
		input string
		valid bool
	}{
		{"core table", "workout_log_exercises", true},
		{"digits allowed", "table2", true},
		{"empty rejected", "", false},
		{"space rejected", "my table", false},
		{"backtick rejected", "a`b", false},
		{"semicolon rejected", "users;drop", false},
		{"dash rejected", "user-analytics", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.valid, IsValidIdentifier(tt.input))
		})
	}
}

func TestQuoteIdentifierSafe(t *testing.T) {
	quoted, err := QuoteIdentifierSafe("user_analytics")
	require.NoError(t, err)
	assert.Equal(t, "`user_analytics`", quoted)

	_, err = QuoteIdentifierSafe("users; DROP TABLE users")
	require.Error(t, err)

	var invalidErr *InvalidIdentifierError
	require.ErrorAs(t, err, &invalidErr)
	assert.Contains(t, invalidErr.Error(), "invalid identifier")
}
