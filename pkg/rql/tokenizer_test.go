package rql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenizer(t *testing.T) {
	tests := []struct {
		name    string
		clause  string
		want    []string
		wantErr bool
	}{
		{
			name:   "function call",
			clause: "eq(col,val)",
			want:   []string{"eq(", "col", "val", ")"},
		},
		{
			name:   "nested function call",
			clause: "and(eq(a,1),gt(b,2))",
			want:   []string{"and(", "eq(", "a", "1", ")", "gt(", "b", "2", ")", ")"},
		},
		{
			name:   "space separates terms",
			clause: "in(col,a b,c)",
			want:   []string{"in(", "col", "a", "b", "c", ")"},
		},
		{
			name:   "quotes suppress separators and echo back",
			clause: "eq(col,'a, b')",
			want:   []string{"eq(", "col", "'a, b'", ")"},
		},
		{
			name:   "double quotes",
			clause: `eq("first name",bob)`,
			want:   []string{"eq(", `"first name"`, "bob", ")"},
		},
		{
			name:   "backslash escapes next character",
			clause: `eq(col,a\,b)`,
			want:   []string{"eq(", "col", "a,b", ")"},
		},
		{
			name:   "equals self-terminates",
			clause: "col=ge=5",
			want:   []string{"col", "=", "ge", "=", "5"},
		},
		{
			name:   "quote terminates pending token",
			clause: "eq(col,abc'def')",
			want:   []string{"eq(", "col", "abc", "'def'", ")"},
		},
		{
			name:    "unterminated quote",
			clause:  "eq(col,'oops)",
			wantErr: true,
		},
		{
			name:    "trailing escape",
			clause:  `eq(col,val\`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewTokenizer(tt.clause).All()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTokenizerEmptyInput(t *testing.T) {
	tok, err := NewTokenizer("").Next()
	require.NoError(t, err)
	assert.Equal(t, "", tok)
}
