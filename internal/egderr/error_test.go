package egderr

import (
	"errors"
	"testing"
)

func TestErrorCategoryOf(t *testing.T) {
	err := Perm("source", "FETCH_404", "not found", nil)
	if CategoryOf(err) != Permanent {
		t.Fatalf("expected Permanent category")
	}

	wrapped := errors.New("wrapped: " + err.Error())
	if CategoryOf(wrapped) != Permanent {
		t.Fatalf("plain errors default to Permanent")
	}
}

func TestErrorIsByCode(t *testing.T) {
	err := Fat("storage", "STORAGE_CORRUPTED", "checksum mismatch", nil)
	if !errors.Is(err, Code("STORAGE_CORRUPTED")) {
		t.Fatalf("expected errors.Is to match by code")
	}
	if errors.Is(err, Code("OTHER_CODE")) {
		t.Fatalf("expected errors.Is to not match a different code")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := Temp("net", "FETCH_TIMEOUT", "timed out", cause)
	if !errors.Is(err, cause) {
		t.Fatalf("expected Unwrap to expose cause")
	}
}
