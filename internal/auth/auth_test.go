package auth

import (
	"errors"
	"testing"

	"github.com/buildgate/buildgate/internal/model"
)

func requireKind(t *testing.T, err error, kind model.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s violation, got nil", kind)
	}
	var v *model.Violation
	if !errors.As(err, &v) {
		t.Fatalf("expected *model.Violation, got %T: %v", err, err)
	}
	if v.Kind != kind {
		t.Fatalf("expected kind %s, got %s", kind, v.Kind)
	}
}

func TestExtractTokenStripsBearerPrefix(t *testing.T) {
	cases := map[string]string{
		"Bearer s3cret":    "s3cret",
		"bearer s3cret":    "s3cret",
		"BEARER s3cret":    "s3cret",
		"  Bearer s3cret ": "s3cret",
		"Bearer ":          "",
		"Bearer":           "",
		"":                 "",
		"Basic s3cret":     "",
		"s3cret":           "",
	}
	for header, want := range cases {
		if got := ExtractToken(header); got != want {
			t.Errorf("ExtractToken(%q): expected %q, got %q", header, want, got)
		}
	}
}

func TestValidateRoundTrip(t *testing.T) {
	a := New("s3cret")
	if err := a.Validate(ExtractToken("Bearer s3cret")); err != nil {
		t.Errorf("expected exact token to validate, got %v", err)
	}
}

func TestValidateIsCaseAndLengthSensitive(t *testing.T) {
	a := New("s3cret")
	requireKind(t, a.Validate("S3cret"), model.KindAuthInvalid)
	requireKind(t, a.Validate("s3cre"), model.KindAuthInvalid)
	requireKind(t, a.Validate("s3cretx"), model.KindAuthInvalid)
}

func TestValidateMissingToken(t *testing.T) {
	a := New("s3cret")
	requireKind(t, a.Validate(""), model.KindAuthMissing)
	requireKind(t, a.Authorize(""), model.KindAuthMissing)
	requireKind(t, a.Authorize("Bearer"), model.KindAuthMissing)
}

func TestDisabledWhenSecretEmptyOrPlaceholder(t *testing.T) {
	for _, secret := range []string{"", PlaceholderToken} {
		a := New(secret)
		if a.Enabled() {
			t.Errorf("expected auth disabled for secret %q", secret)
		}
		if err := a.Validate("anything"); err != nil {
			t.Errorf("expected disabled auth to accept any token, got %v", err)
		}
		if err := a.Authorize(""); err != nil {
			t.Errorf("expected disabled auth to accept missing header, got %v", err)
		}
	}
}
