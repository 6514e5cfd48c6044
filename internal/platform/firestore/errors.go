package firestore

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/vibedrinkssp-cmd/vibedrinks-sub000/internal/repositories"
)

var kindByCode = map[codes.Code]repositories.ErrorKind{
	codes.NotFound:           repositories.ErrorKindNotFound,
	codes.AlreadyExists:      repositories.ErrorKindConflict,
	codes.FailedPrecondition: repositories.ErrorKindConflict,
	codes.Aborted:            repositories.ErrorKindConflict,
	codes.OutOfRange:         repositories.ErrorKindConflict,
	codes.InvalidArgument:    repositories.ErrorKindInvalidInput,
	codes.Unavailable:        repositories.ErrorKindUnavailable,
	codes.ResourceExhausted:  repositories.ErrorKindUnavailable,
	codes.Internal:           repositories.ErrorKindUnavailable,
	codes.DeadlineExceeded:   repositories.ErrorKindUnavailable,
}

// WrapError turns a Firestore error into a *repositories.Error keyed by its gRPC code.
// Cancellation is returned as context.Canceled, and errors that already carry a repository
// classification pass through untouched.
func WrapError(op string, err error) error {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if status.Code(err) == codes.Canceled {
		return context.Canceled
	}
	if _, fromGRPC := status.FromError(err); !fromGRPC {
		var classified repositories.RepositoryError
		if errors.As(err, &classified) {
			return err
		}
	}

	kind, ok := kindByCode[status.Code(err)]
	if !ok {
		kind = repositories.ErrorKindUnknown
	}
	return repositories.NewError(op, kind, "", err)
}
