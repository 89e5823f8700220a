package util

import (
	"strings"
	"testing"

	"github.com/spf13/viper"
)

func TestWrapString(t *testing.T) {
	long := strings.Repeat("x", Wrap+10)

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"empty", "", ""},
		{"short", "open a database", "open a database"},
		{"collapses whitespace", "  open \t a\ndatabase ", "open a database"},
		{"long word stays whole", long, long},
		{"wraps before overflow", strings.Repeat("abcd ", 11), strings.Repeat("abcd ", 9) + "abcd\nabcd"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := WrapString(tt.input)
			if got != tt.want {
				t.Errorf("WrapString(%q) = %q, want %q", tt.input, got, tt.want)
			}
			for _, line := range strings.Split(got, "\n") {
				if len(line) > Wrap && strings.Contains(line, " ") {
					t.Errorf("line %q is longer than %d characters", line, Wrap)
				}
			}
		})
	}
}

func TestGetTransport(t *testing.T) {
	defer viper.Reset()

	for _, name := range []string{"http", "tcp", "unix", "grpc"} {
		viper.Set("transport", name)
		if _, err := GetTransport(); err != nil {
			t.Errorf("GetTransport() with %s: %v", name, err)
		}
		if _, err := GetServerTransport(); err != nil {
			t.Errorf("GetServerTransport() with %s: %v", name, err)
		}
	}

	viper.Set("transport", "quic")
	if _, err := GetTransport(); err == nil {
		t.Error("GetTransport() with unknown transport succeeded")
	}
	if _, err := GetServerTransport(); err == nil {
		t.Error("GetServerTransport() with unknown transport succeeded")
	}
}
