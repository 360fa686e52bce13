package egress

import "testing"

func TestAllowlistExactMatch(t *testing.T) {
	a := NewAllowlist([]string{"api.example.com"})
	if !a.Allows("api.example.com") {
		t.Fatal("expected exact domain to be allowed")
	}
	if a.Allows("other.example.com") {
		t.Fatal("expected non-matching domain to be rejected")
	}
}

func TestAllowlistWildcard(t *testing.T) {
	a := NewAllowlist([]string{"*.example.com"})
	if !a.Allows("example.com") {
		t.Fatal("expected wildcard to cover bare domain")
	}
	if !a.Allows("api.example.com") {
		t.Fatal("expected wildcard to cover subdomain")
	}
	if a.Allows("example.com.evil.net") {
		t.Fatal("expected wildcard not to match a suffix-only lookalike")
	}
}

func TestAllowlistCaseInsensitive(t *testing.T) {
	a := NewAllowlist([]string{"API.Example.COM"})
	if !a.Allows("api.example.com") {
		t.Fatal("expected case-insensitive match")
	}
}

func TestAllowlistEmpty(t *testing.T) {
	a := NewAllowlist(nil)
	if a.Allows("anything.test") {
		t.Fatal("expected empty allowlist to deny everything")
	}
}
