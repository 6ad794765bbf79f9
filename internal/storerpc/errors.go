package storerpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/duodeck/internal/common"
	"github.com/dmitrijs2005/duodeck/internal/docstore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatus converts a store error into a gRPC status error.
func ToStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, common.ErrorNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, common.ErrUnavailable):
		return status.Error(codes.Unavailable, "store unavailable")
	case errors.Is(err, docstore.ErrSubscribeInTx):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, common.ErrPayloadTooLarge):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}

// FromStatus converts a gRPC error received by a client back into the store
// error it stands for.
func FromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return common.ErrorNotFound
	case codes.Unavailable, codes.ResourceExhausted:
		return common.ErrUnavailable
	case codes.Unauthenticated:
		return common.ErrUnauthorized
	case codes.FailedPrecondition:
		return docstore.ErrSubscribeInTx
	case codes.Canceled:
		return context.Canceled
	case codes.DeadlineExceeded:
		return context.DeadlineExceeded
	}
	return err
}
