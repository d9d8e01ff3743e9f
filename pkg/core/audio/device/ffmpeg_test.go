package device

import (
	"strings"
	"testing"

	"github.com/vocalis-ai/vocalis-go/pkg/core/audio"
)

func TestCaptureArgs(t *testing.T) {
	format := audio.DefaultCaptureFormat()

	tests := []struct {
		goos    string
		backend string
		input   string
		wantErr bool
	}{
		{"darwin", "avfoundation", ":0", false},
		{"linux", "pulse", "default", false},
		{"windows", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.goos, func(t *testing.T) {
			args, err := captureArgs(tt.goos, format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("captureArgs(%q) error = %v, wantErr %v", tt.goos, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			joined := strings.Join(args, " ")
			if !strings.Contains(joined, "-f "+tt.backend) {
				t.Errorf("args = %q, want backend %q", joined, tt.backend)
			}
			if !strings.Contains(joined, "-i "+tt.input) {
				t.Errorf("args = %q, want input %q", joined, tt.input)
			}
			if !strings.Contains(joined, "-ar 16000") {
				t.Errorf("args = %q, want sample rate 16000", joined)
			}
			if !strings.Contains(joined, "-f s16le") {
				t.Errorf("args = %q, want s16le output", joined)
			}
		})
	}
}

func TestCaptureArgsRespectsFormat(t *testing.T) {
	format := audio.Format{SampleRate: 8000, Channels: 1, BitsPerSample: 16}
	args, err := captureArgs("linux", format)
	if err != nil {
		t.Fatalf("captureArgs() error = %v", err)
	}
	joined := strings.Join(args, " ")
	if !strings.Contains(joined, "-ar 8000") {
		t.Errorf("args = %q, want sample rate 8000", joined)
	}
}
