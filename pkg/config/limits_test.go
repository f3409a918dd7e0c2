package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMemory(t *testing.T) {
	tests := []struct {
		in      string
		want    MemoryLimit
		wantErr bool
	}{
		{in: "2048", want: MemoryLimit{MB: 2048}},
		{in: "1gb", want: MemoryLimit{MB: 1024}},
		{in: "1.5gb", want: MemoryLimit{MB: 1536}},
		{in: "512mb", want: MemoryLimit{MB: 512}},
		{in: "2048kb", want: MemoryLimit{MB: 2}},
		{in: "1GB", want: MemoryLimit{MB: 1024}},
		{in: "50%", want: MemoryLimit{Percent: 50}},
		{in: "unlimited", want: MemoryLimit{Unlimited: true}},
		{in: "UNLIMITED", want: MemoryLimit{Unlimited: true}},
		{in: "10tb", wantErr: true},
		{in: "0%", wantErr: true},
		{in: "101%", wantErr: true},
		{in: "-10", wantErr: true},
		{in: "", wantErr: true},
		{in: "lots", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMemory(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMemoryResolveMB(t *testing.T) {
	hostBytes := uint64(16) * 1024 * 1024 * 1024 // 16 GiB

	assert.Equal(t, 0, MemoryLimit{Unlimited: true}.ResolveMB(hostBytes))
	assert.Equal(t, 2048, MemoryLimit{MB: 2048}.ResolveMB(hostBytes))
	assert.Equal(t, 8192, MemoryLimit{Percent: 50}.ResolveMB(hostBytes))
}

func TestParseCPUs(t *testing.T) {
	tests := []struct {
		in      string
		want    CPULimit
		wantErr bool
	}{
		{in: "4", want: CPULimit{Count: 4}},
		{in: "50%", want: CPULimit{Percent: 50}},
		{in: "unlimited", want: CPULimit{Unlimited: true}},
		{in: "0", wantErr: true},
		{in: "-1", wantErr: true},
		{in: "150%", wantErr: true},
		{in: "two", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseCPUs(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCPUResolve(t *testing.T) {
	assert.Equal(t, 0, CPULimit{Unlimited: true}.Resolve(8))
	assert.Equal(t, 4, CPULimit{Count: 4}.Resolve(8))
	assert.Equal(t, 4, CPULimit{Percent: 50}.Resolve(8))
	assert.Equal(t, 1, CPULimit{Percent: 10}.Resolve(4), "rounds up to one core")
}
