package admin

import "testing"

func TestSanitizeTextField(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "bad, mean, awful", "bad, mean, awful"},
		{"trim", "  bad  ", "bad"},
		{"newlines", "bad,\nmean,\r\nawful", "bad, mean, awful"},
		{"tabs and runs", "bad,\t\t  mean", "bad, mean"},
		{"tags", "<em>bad</em>, mean", "bad, mean"},
		{"script", "bad<script>alert(1)</script>, mean", "bad, mean"},
		{"lone angle", "a < b", "a < b"},
		{"percent octets", "bad%20word", "badword"},
		{"nested percent", "%2%200", ""},
		{"invalid utf8", "bad\xff, mean", "bad, mean"},
		{"unicode kept", "плохо, 悪い", "плохо, 悪い"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SanitizeTextField(tt.input); got != tt.want {
				t.Errorf("SanitizeTextField(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}
