package domain

import "testing"

func TestPrincipalDisplayName(t *testing.T) {
	tests := []struct {
		name string
		p    Principal
		want string
	}{
		{name: "prefers name", p: Principal{UID: "u1", Name: "Alice", Email: "a@x.com"}, want: "Alice"},
		{name: "falls back to email", p: Principal{UID: "u2", Email: "b@x.com"}, want: "b@x.com"},
		{name: "blank name falls back to email", p: Principal{UID: "u2", Name: "  ", Email: "b@x.com"}, want: "b@x.com"},
		{name: "anonymous", p: Principal{UID: "u3"}, want: AnonymousName},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.p.DisplayName(); got != tc.want {
				t.Fatalf("DisplayName() = %q, want %q", got, tc.want)
			}
		})
	}
}
