package ports

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseRange(t *testing.T) {
	tests := []struct {
		spec    string
		want    Range
		wantErr bool
	}{
		{"3100-3109", Range{3100, 3109}, false},
		{" 3000-3009 ", Range{3000, 3009}, false},
		{"1-65535", Range{1, 65535}, false},
		{"8080-8080", Range{8080, 8080}, false},
		{"0-10", Range{}, true},
		{"70000-70010", Range{}, true},
		{"3000-70000", Range{}, true},
		{"10-5", Range{}, true},
		{"3000", Range{}, true},
		{"abc-def", Range{}, true},
		{"", Range{}, true},
		{"-5-10", Range{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			got, err := ParseRange(tt.spec)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRangeOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Range
		want bool
	}{
		{"identical", Range{3000, 3009}, Range{3000, 3009}, true},
		{"contained", Range{3000, 3099}, Range{3010, 3019}, true},
		{"partial high", Range{3000, 3009}, Range{3005, 3015}, true},
		{"partial low", Range{3005, 3015}, Range{3000, 3009}, true},
		{"shared endpoint", Range{3000, 3009}, Range{3009, 3019}, true},
		{"adjacent", Range{3000, 3009}, Range{3010, 3019}, false},
		{"disjoint", Range{3000, 3009}, Range{4000, 4009}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a), "overlap must be symmetric")
		})
	}
}

func TestRangeAccessors(t *testing.T) {
	r := Range{3100, 3109}

	assert.Equal(t, "3100-3109", r.String())
	assert.Equal(t, 10, r.Size())
	assert.True(t, r.Contains(3100))
	assert.True(t, r.Contains(3109))
	assert.False(t, r.Contains(3099))
	assert.False(t, r.Contains(3110))

	single := Range{8080, 8080}
	assert.Equal(t, 1, single.Size())
}
