package sharing

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medrex/rx-ledger/pkg/types"
)

func TestLinkSigner_SignAndValidate(t *testing.T) {
	signer := NewLinkSigner("test-secret")

	token, err := signer.Sign("6f1c9a8e-3c1b-4f0e-9a77-2d0b9f1f0c11", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to sign link: %v", err)
	}

	grantID, err := signer.Validate(token)
	if err != nil {
		t.Fatalf("Failed to validate valid link: %v", err)
	}

	if grantID != "6f1c9a8e-3c1b-4f0e-9a77-2d0b9f1f0c11" {
		t.Errorf("Expected grant id to round trip, got '%s'", grantID)
	}
}

func TestLinkSigner_RejectsInvalidTokens(t *testing.T) {
	signer := NewLinkSigner("test-secret")

	if _, err := signer.Validate("invalid-token"); err == nil {
		t.Error("Expected error for malformed token")
	}

	// Signed with another secret
	other, err := NewLinkSigner("wrong-secret").Sign("grant", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Failed to sign link: %v", err)
	}
	if _, err := signer.Validate(other); err == nil {
		t.Error("Expected error for token with wrong secret")
	}

	// No expiry claim
	unbounded := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: "grant", Issuer: linkIssuer})
	unboundedString, err := unbounded.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("Failed to create test token: %v", err)
	}
	if _, err := signer.Validate(unboundedString); err == nil {
		t.Error("Expected error for token without expiry")
	}

	// Different algorithm
	none := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.RegisteredClaims{
		ID:        "grant",
		Issuer:    linkIssuer,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	noneString, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("Failed to create test token: %v", err)
	}
	if _, err := signer.Validate(noneString); err == nil {
		t.Error("Expected error for unsigned token")
	}
}

func TestLinkSigner_Expired(t *testing.T) {
	signer := NewLinkSigner("test-secret")

	token, err := signer.Sign("grant", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("Failed to sign link: %v", err)
	}

	_, err = signer.Validate(token)
	if types.ErrorTypeOf(err) != types.ErrorTypeAuthorization {
		t.Fatalf("Expected authorization error, got %v", err)
	}
	if err.Error() != "INVALID_TOKEN: share link expired" {
		t.Errorf("Expected expiry message, got '%s'", err.Error())
	}
}
