package connection

import "testing"

func TestCloseReason(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{1000, "Normal Closure"},
		{1001, "Going Away"},
		{1006, "Abnormal Closure"},
		{1011, "Internal Error"},
		{1015, "TLS Handshake Failed"},
		{1004, "Unknown"},
		{9999, "Unknown"},
		{0, "Unknown"},
	}

	for _, tt := range tests {
		if got := CloseReason(tt.code); got != tt.want {
			t.Errorf("CloseReason(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}
