package ports

import (
	"context"

	"gorank/domain/expr"
)

// MatrixLoaderPort reads an annotated expression matrix from a container path
type MatrixLoaderPort interface {
	Load(ctx context.Context, path string) (*expr.AnnotatedMatrix, error)
}

// MatrixWriterPort persists an annotated expression matrix to a container path.
// Implementations write the same container family they load.
type MatrixWriterPort interface {
	Write(ctx context.Context, path string, am *expr.AnnotatedMatrix) error
}
