package connector

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchCode(t *testing.T) {
	t.Parallel()

	const want = "4901234567894"
	tests := []struct {
		name   string
		codes  []string
		wantOK bool
		out    []string
	}{
		{name: "searched code moves first", codes: []string{"4900000000003", want}, wantOK: true, out: []string{want, "4900000000003"}},
		{name: "already first", codes: []string{want, "4900000000003"}, wantOK: true, out: []string{want, "4900000000003"}},
		{name: "no codes on hit", wantOK: true, out: []string{want}},
		{name: "other product", codes: []string{"4900000000003"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			out, ok := MatchCode(tt.codes, want)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.out, out)
		})
	}
}
