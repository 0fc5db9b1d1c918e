package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeJSON(t *testing.T) {
	type plan struct {
		Priority string   `json:"priority"`
		Services []string `json:"services"`
	}

	tests := []struct {
		name    string
		input   string
		wantErr bool
		want    plan
	}{
		{
			name:  "bare JSON",
			input: `{"priority":"high","services":["api-gateway"]}`,
			want:  plan{Priority: "high", Services: []string{"api-gateway"}},
		},
		{
			name:  "json fence",
			input: "Here is the plan:\n```json\n{\"priority\":\"low\",\"services\":[]}\n```\nDone.",
			want:  plan{Priority: "low", Services: []string{}},
		},
		{
			name:  "plain fence",
			input: "```\n{\"priority\":\"medium\",\"services\":[\"db\"]}\n```",
			want:  plan{Priority: "medium", Services: []string{"db"}},
		},
		{
			name:  "surrounding prose without fences",
			input: `The result is {"priority":"high","services":["redis"]} as requested.`,
			want:  plan{Priority: "high", Services: []string{"redis"}},
		},
		{
			name:    "no JSON at all",
			input:   "I could not determine a plan.",
			wantErr: true,
		},
		{
			name:    "malformed JSON",
			input:   `{"priority": high}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got plan
			err := DecodeJSON(tt.input, &got)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeJSON_Array(t *testing.T) {
	var got []string
	err := DecodeJSON("```json\n[\"a\",\"b\"]\n```", &got)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)
}
