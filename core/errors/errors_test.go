package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestWrapRoundTrip(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, CategoryIOFailure, "bundle_write_failed", "check output directory permissions", true)
	if err == nil {
		t.Fatal("expected wrapped error")
	}
	if CategoryOf(err) != CategoryIOFailure {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "bundle_write_failed" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "check output directory permissions" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if !RetryableOf(err) {
		t.Fatal("expected retryable true")
	}
	if !stderrors.Is(err, base) {
		t.Fatal("expected wrapped error to preserve cause")
	}
}

func TestNewfFormatsAndClassifies(t *testing.T) {
	err := Newf(CategoryDependencyMissing, "cosign_missing", "install cosign", "cosign not found in %s", "PATH")
	if err.Error() != "cosign not found in PATH" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	if CategoryOf(err) != CategoryDependencyMissing {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if RetryableOf(err) {
		t.Fatal("expected Newf errors to be non-retryable")
	}
}

func TestCategorySurvivesOuterWrapping(t *testing.T) {
	inner := Newf(CategoryVerification, "hash_mismatch", "", "hash mismatch for a.txt")
	outer := fmt.Errorf("verify bundle: %w", inner)
	if CategoryOf(outer) != CategoryVerification {
		t.Fatalf("expected category through fmt wrapping, got %q", CategoryOf(outer))
	}
	if CodeOf(outer) != "hash_mismatch" {
		t.Fatalf("unexpected code: %s", CodeOf(outer))
	}
}

func TestUnknownErrorDefaults(t *testing.T) {
	err := stderrors.New("plain")
	if CategoryOf(err) != "" {
		t.Fatalf("unexpected category: %s", CategoryOf(err))
	}
	if CodeOf(err) != "" {
		t.Fatalf("unexpected code: %s", CodeOf(err))
	}
	if HintOf(err) != "" {
		t.Fatalf("unexpected hint: %s", HintOf(err))
	}
	if RetryableOf(err) {
		t.Fatal("unexpected retryable true")
	}
}

func TestWrapNilCauseReturnsNil(t *testing.T) {
	if got := Wrap(nil, CategoryInternalFailure, "internal_failure", "retry later", false); got != nil {
		t.Fatalf("expected nil wrapped error, got=%v", got)
	}
}

func TestClassifiedErrorNilCauseDefaults(t *testing.T) {
	err := &classifiedError{Envelope: Envelope{Category: CategoryInvalidInput, Code: "invalid_input", Hint: "check flags"}}
	if err.Error() != "unknown error" {
		t.Fatalf("unexpected nil-cause error text: %s", err.Error())
	}
	if err.Unwrap() != nil {
		t.Fatalf("expected unwrap nil for nil cause")
	}
}

func TestDescribeReturnsOutermostEnvelope(t *testing.T) {
	inner := Newf(CategoryIOFailure, "write_failed", "check disk", "disk full")
	outer := Wrap(fmt.Errorf("stage artifacts: %w", inner), CategoryInternalFailure, "pack_failed", "", true)

	envelope, ok := Describe(outer)
	if !ok {
		t.Fatal("expected classified error")
	}
	want := Envelope{Category: CategoryInternalFailure, Code: "pack_failed", Retryable: true}
	if envelope != want {
		t.Fatalf("unexpected envelope: %#v", envelope)
	}
	if !Is(outer, CategoryInternalFailure) || Is(outer, CategoryIOFailure) {
		t.Fatalf("Is should match only the outermost category")
	}
	if _, ok := Describe(stderrors.New("plain")); ok {
		t.Fatal("plain errors must not describe as classified")
	}
	if Is(nil, CategoryInternalFailure) {
		t.Fatal("nil error must not match a category")
	}
}

func TestCategorySetIsStableAndUnique(t *testing.T) {
	categories := []Category{
		CategoryInvalidInput,
		CategoryVerification,
		CategoryDependencyMissing,
		CategoryIOFailure,
		CategoryInternalFailure,
	}
	seen := map[Category]struct{}{}
	for _, category := range categories {
		if category == "" {
			t.Fatalf("category must not be empty")
		}
		if _, exists := seen[category]; exists {
			t.Fatalf("duplicate category: %s", category)
		}
		seen[category] = struct{}{}
	}
	if len(seen) != 5 {
		t.Fatalf("expected 5 categories, got %d", len(seen))
	}
}
