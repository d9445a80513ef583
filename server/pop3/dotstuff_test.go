package pop3

import (
	"strings"
	"testing"
)

func TestDotStuffPOP3(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "Empty string",
			input:    "",
			expected: "",
		},
		{
			name:     "No dots",
			input:    "Line 1\r\nLine 2\r\nLine 3",
			expected: "Line 1\r\nLine 2\r\nLine 3",
		},
		{
			name:     "Dot at start of line",
			input:    ".Line 1\r\nLine 2\r\n.Line 3",
			expected: "..Line 1\r\nLine 2\r\n..Line 3",
		},
		{
			name:     "Dot in the middle of a line",
			input:    "Line 1.still line 1\r\nLine 2",
			expected: "Line 1.still line 1\r\nLine 2",
		},
		{
			name:     "Lone dot line",
			input:    "Line 1\r\n.\r\nLine 3",
			expected: "Line 1\r\n..\r\nLine 3",
		},
		{
			name:     "Dot at very start",
			input:    ".",
			expected: "..",
		},
		{
			name:     "Consecutive dot lines",
			input:    ".a\r\n.b\r\n.c",
			expected: "..a\r\n..b\r\n..c",
		},
		{
			name:     "Bare LF line endings",
			input:    ".Line 1\n.Line 2",
			expected: "..Line 1\n..Line 2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := dotStuffPOP3(tt.input)
			if result != tt.expected {
				t.Errorf("dotStuffPOP3(%q) = %q, want %q", tt.input, result, tt.expected)
			}
		})
	}
}

func BenchmarkDotStuffPOP3NoDots(b *testing.B) {
	data := strings.Repeat("A line without any stuffing needed\r\n", 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dotStuffPOP3(data)
	}
}

func BenchmarkDotStuffPOP3MidlineDots(b *testing.B) {
	data := strings.Repeat("Sentences. With. Dots. Mid-line.\r\n", 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dotStuffPOP3(data)
	}
}

func BenchmarkDotStuffPOP3LeadingDots(b *testing.B) {
	data := strings.Repeat(".leading dot line\r\n", 100)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		dotStuffPOP3(data)
	}
}
