package security

import (
	"errors"
	"net"
	"testing"
)

func TestValidateImageURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"public IP", "https://8.8.8.8/selfie.jpg", nil},
		{"HTTP rejected", "http://8.8.8.8/selfie.jpg", ErrInvalidScheme},
		{"file scheme rejected", "file:///etc/passwd", ErrInvalidScheme},
		{"no host", "https:///selfie.jpg", ErrNoHost},
		{"localhost rejected", "https://localhost/selfie.jpg", ErrPrivateIP},
		{"loopback rejected", "https://127.0.0.1/selfie.jpg", ErrPrivateIP},
		{"10.x rejected", "https://10.0.0.1/selfie.jpg", ErrPrivateIP},
		{"172.16.x rejected", "https://172.16.0.1/selfie.jpg", ErrPrivateIP},
		{"192.168.x rejected", "https://192.168.1.1/selfie.jpg", ErrPrivateIP},
		{"link-local metadata rejected", "https://169.254.169.254/latest", ErrPrivateIP},
		{"IPv6 loopback rejected", "https://[::1]/selfie.jpg", ErrPrivateIP},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateImageURL(tt.url)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateImageURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateImageURL_Skip(t *testing.T) {
	SetSkipValidation(true)
	defer SetSkipValidation(false)

	if err := ValidateImageURL("http://127.0.0.1:8080/x.png"); err != nil {
		t.Errorf("ValidateImageURL() with skip = %v, want nil", err)
	}
}

func TestIsRemote(t *testing.T) {
	tests := []struct {
		src  string
		want bool
	}{
		{"https://example.com/a.png", true},
		{"http://example.com/a.png", true},
		{"selfie.jpg", false},
		{"/home/me/selfie.jpg", false},
		{"C:\\photos\\me.png", false},
	}

	for _, tt := range tests {
		if got := IsRemote(tt.src); got != tt.want {
			t.Errorf("IsRemote(%q) = %v, want %v", tt.src, got, tt.want)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"100.64.0.1", true},
		{"192.0.2.10", true},
		{"198.51.100.7", true},
		{"203.0.113.9", true},
		{"224.0.0.1", true},
		{"250.1.1.1", true},
		{"0.1.2.3", true},
		{"8.8.8.8", false},
		{"1.1.1.1", false},
		{"fe80::1", true},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isPrivateIP(net.ParseIP(tt.ip)); got != tt.want {
				t.Errorf("isPrivateIP(%s) = %v, want %v", tt.ip, got, tt.want)
			}
		})
	}
}
