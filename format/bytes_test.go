package format

import (
	"testing"
	"time"
)

func TestHumanBytes2(t *testing.T) {
	type testCase struct {
		input    uint64
		expected string
	}

	tests := []testCase{
		{0, "0 B"},
		{1, "1 B"},
		{1023, "1023 B"},

		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{1048575, "1024.0 KiB"},

		{1048576, "1.0 MiB"},
		{1572864, "1.5 MiB"},
		{1073741823, "1024.0 MiB"},

		{1073741824, "1.0 GiB"},
		{1610612736, "1.5 GiB"},
		{2147483648, "2.0 GiB"},
	}

	for _, tc := range tests {
		t.Run(tc.expected, func(t *testing.T) {
			result := HumanBytes2(tc.input)
			if result != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, result)
			}
		})
	}
}

func TestKiBPerSecond(t *testing.T) {
	if got := KiBPerSecond(1<<20, time.Second); got != 1024 {
		t.Errorf("Expected 1024, got %d", got)
	}

	if got := KiBPerSecond(1<<20, 0); got != 0 {
		t.Errorf("Expected 0 for zero duration, got %d", got)
	}
}
