package auth

import (
	"errors"
	"testing"

	"github.com/danmuck/xlloop/internal/testutil/testlog"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	cases := map[string]string{
		"Bearer abc":     "abc",
		"bearer  abc ":   "abc",
		" Bearer xyz123": "xyz123",
	}
	for header, want := range cases {
		got, ok := BearerToken(header)
		if !ok || got != want {
			t.Fatalf("BearerToken(%q) = %q, %v", header, got, ok)
		}
	}
	for _, bad := range []string{"", "Bearer", "Bearer   ", "Basic abc", "abc"} {
		if _, ok := BearerToken(bad); ok {
			t.Fatalf("expected %q to be rejected", bad)
		}
	}
}

func TestCheckHeader(t *testing.T) {
	testlog.Start(t)
	v := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})
	if err := CheckHeader(v, "Bearer ok"); err != nil {
		t.Fatalf("expected accepted token, got %v", err)
	}
	if err := CheckHeader(v, "Bearer nope"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if err := CheckHeader(v, ""); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for missing header, got %v", err)
	}
}
