package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

// TestErrorClassHelpers tests that constructed errors match their class
func TestErrorClassHelpers(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		matcher func(error) bool
	}{
		{"zero sum row", NewZeroSumRowError(7), IsInvalidInput},
		{"shape mismatch", NewShapeMismatchError("rank matrix", 10, 4, 10, 5), IsInvalidInput},
		{"empty matrix", ErrEmptyMatrix, IsInvalidInput},
		{"empty subset", NewEmptySubsetError(3), IsInsufficientData},
		{"non finite", NewNonFiniteError("normalization", 2, 9), IsNumericalInstability},
		{"run not found", NewRunNotFoundError(RunID("r1")), IsNotFoundError},
	}

	for _, tt := range tests {
		if !tt.matcher(tt.err) {
			t.Errorf("%s: error %q did not match its class", tt.name, tt.err)
		}
	}
}

// TestErrorClassesAreDisjoint tests that class helpers do not cross-match
func TestErrorClassesAreDisjoint(t *testing.T) {
	if IsInsufficientData(NewZeroSumRowError(0)) {
		t.Error("zero-sum row error should not match insufficient data")
	}
	if IsInvalidInput(NewEmptySubsetError(3)) {
		t.Error("empty subset error should not match invalid input")
	}
	if IsNumericalInstability(ErrShapeMismatch) {
		t.Error("shape mismatch should not match numerical instability")
	}
}

// TestErrorWrappingSurvivesContext tests that %w chains keep the sentinel reachable
func TestErrorWrappingSurvivesContext(t *testing.T) {
	inner := NewZeroSumRowError(3)
	outer := fmt.Errorf("normalize stage failed: %w", inner)

	if !errors.Is(outer, ErrInvalidInput) {
		t.Errorf("wrapped error lost its sentinel: %v", outer)
	}
	if !errors.Is(outer, ErrZeroSumRow) {
		t.Errorf("wrapped error lost the zero-sum sentinel: %v", outer)
	}
}

// TestZeroSumRowErrorNamesTheRow tests the row index appears in the message
func TestZeroSumRowErrorNamesTheRow(t *testing.T) {
	err := NewZeroSumRowError(42)
	want := "zero-sum row 42"
	if got := err.Error(); !strings.Contains(got, want) {
		t.Errorf("Expected message to contain %q, got %q", want, got)
	}
}
