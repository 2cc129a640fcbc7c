// Package testutil holds assertion helpers shared by package tests.
package testutil

import (
	"encoding/json"
	"testing"

	appErr "github.com/ExxiDauS/CyberCTF/pkg/errors"
)

// AssertEqual checks if two comparable values are equal
func AssertEqual[T comparable](t *testing.T, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("got %v, want %v", got, want)
	}
}

// AssertCode fails unless err carries code
func AssertCode(t *testing.T, err error, code appErr.ErrorCode) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error code %d, got nil", code)
	}
	if !appErr.Is(err, code) {
		t.Fatalf("expected error code %d, got %d (%v)", code, appErr.GetCode(err), err)
	}
}

// MustNoError fails the test immediately on err
func MustNoError(t *testing.T, err error, what string) {
	t.Helper()
	if err != nil {
		t.Fatalf("%s failed: %v", what, err)
	}
}

// MustUnmarshalJSON unmarshals JSON data or fails the test
func MustUnmarshalJSON(t *testing.T, data []byte, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, v); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v (%s)", err, data)
	}
}
