package core

import (
	"errors"
	"fmt"
)

// Domain errors - centralized error definitions
var (
	// Input validation errors
	ErrInvalidInput  = errors.New("invalid input")
	ErrZeroSumRow    = fmt.Errorf("%w: zero-sum row", ErrInvalidInput)
	ErrShapeMismatch = fmt.Errorf("%w: shape mismatch", ErrInvalidInput)
	ErrEmptyMatrix   = fmt.Errorf("%w: empty matrix", ErrInvalidInput)

	// Calibration errors
	ErrInsufficientData = errors.New("insufficient data for calibration")

	// Numerical errors
	ErrNumericalInstability = errors.New("numerical instability")

	// Lookup errors
	ErrNotFound    = errors.New("resource not found")
	ErrRunNotFound = fmt.Errorf("%w: run", ErrNotFound)
)

// Error constructors with context
func NewZeroSumRowError(row int) error {
	return fmt.Errorf("%w %d: cannot normalize a cell with zero total count", ErrZeroSumRow, row)
}

func NewShapeMismatchError(what string, wantRows, wantCols, gotRows, gotCols int) error {
	return fmt.Errorf("%w: %s is %dx%d, want %dx%d", ErrShapeMismatch, what, gotRows, gotCols, wantRows, wantCols)
}

func NewNonFiniteError(stage string, row, col int) error {
	return fmt.Errorf("%w: non-finite value at (%d, %d) during %s", ErrNumericalInstability, row, col, stage)
}

func NewEmptySubsetError(threshold float64) error {
	return fmt.Errorf("%w: no records with log rank below %g", ErrInsufficientData, threshold)
}

func NewRunNotFoundError(id RunID) error {
	return fmt.Errorf("%w with id %s", ErrRunNotFound, id)
}

// Error checking helpers
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

func IsInsufficientData(err error) bool {
	return errors.Is(err, ErrInsufficientData)
}

func IsNumericalInstability(err error) bool {
	return errors.Is(err, ErrNumericalInstability)
}

func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}
