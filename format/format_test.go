package format

import "testing"

func TestHumanNumber(t *testing.T) {
	type testCase struct {
		input    uint64
		expected string
	}

	testCases := []testCase{
		{0, "0"},
		{999, "999"},
		{1000, "1.00K"},
		{82_000, "82.0K"},
		{124_439_808, "124M"},
		{1_500_000_000, "1.50B"},
		{1_000_000_000_000, "1.00T"},
	}

	for _, tc := range testCases {
		t.Run(tc.expected, func(t *testing.T) {
			result := HumanNumber(tc.input)
			if result != tc.expected {
				t.Errorf("Expected %s, got %s", tc.expected, result)
			}
		})
	}
}

func TestPercent(t *testing.T) {
	if got := Percent(1, 4); got != 25 {
		t.Errorf("Expected 25, got %d", got)
	}

	if got := Percent(3, 0); got != 0 {
		t.Errorf("Expected 0, got %d", got)
	}
}
