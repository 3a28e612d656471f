package security

import "testing"

func TestValidateSecureURL(t *testing.T) {
	tests := []struct {
		name              string
		url               string
		allowHTTPLoopback bool
		wantErr           bool
	}{
		{"https always ok", "https://example.com/token", false, false},
		{"http remote rejected", "http://example.com/token", true, true},
		{"http loopback allowed when opted in", "http://127.0.0.1:8080/token", true, false},
		{"http loopback rejected without opt-in", "http://127.0.0.1:8080/token", false, true},
		{"http ipv6 loopback allowed", "http://[::1]:8080/token", true, false},
		{"http localhost allowed", "http://localhost:8080/token", true, false},
		{"non-http scheme rejected", "ftp://example.com/token", true, true},
		{"malformed url rejected", "://bad", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSecureURL(tt.url, "oauth.token_url", tt.allowHTTPLoopback)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSecureURL(%q, loopback=%v) error = %v, wantErr %v", tt.url, tt.allowHTTPLoopback, err, tt.wantErr)
			}
			if err != nil {
				var target *InsecureURLError
				if !asInsecureURLError(err, &target) {
					t.Errorf("expected *InsecureURLError, got %T", err)
				}
			}
		})
	}
}

func TestValidatePKCERedirectURI(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"loopback http allowed", "http://127.0.0.1:8765/callback", false},
		{"localhost allowed", "http://localhost:8765/callback", false},
		{"0.0.0.0 rejected", "http://0.0.0.0:8765/callback", true},
		{"remote http rejected", "http://example.com/callback", true},
		{"remote https rejected", "https://example.com/callback", true},
		{"https loopback allowed", "https://localhost:8765/callback", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePKCERedirectURI(tt.uri, "oauth.redirect_uri")
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePKCERedirectURI(%q) error = %v, wantErr %v", tt.uri, err, tt.wantErr)
			}
		})
	}
}

func asInsecureURLError(err error, target **InsecureURLError) bool {
	if e, ok := err.(*InsecureURLError); ok {
		*target = e
		return true
	}
	return false
}
