package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0 B"},
		{512, "512 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1 << 20, "1.0 MiB"},
		{5 * 1 << 30, "5.0 GiB"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, formatSize(tt.in))
	}
}

func TestFormatLastVisited(t *testing.T) {
	assert.Equal(t, "never", formatLastVisited(0))
	assert.NotEqual(t, "never", formatLastVisited(1700000000000))
}
