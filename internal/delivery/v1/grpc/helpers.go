package grpc

import (
	"errors"

	"github.com/DRSN-tech/product-matcher/pkg/e"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func GRPCErrorResponse(err error) error {
	var decodeErr *e.ImageDecodeError

	switch {
	case errors.Is(err, e.ErrStatusBadRequest), errors.Is(err, e.ErrNoImages), errors.Is(err, e.ErrUnsupportedMediaType):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.As(err, &decodeErr):
		return status.Error(codes.InvalidArgument, decodeErr.Error())
	case errors.Is(err, e.ErrIndexNotReady), errors.Is(err, e.ErrNoArtifact):
		return status.Error(codes.Unavailable, e.ErrIndexNotReady.Error())
	case e.IsUpstream(err):
		return status.Error(codes.Unavailable, "upstream unavailable")
	case errors.Is(err, e.ErrNotFound):
		return status.Error(codes.NotFound, e.ErrNotFound.Error())
	case errors.Is(err, e.ErrModelVersionMismatch), e.IsConfiguration(err):
		return status.Error(codes.FailedPrecondition, "matcher is misconfigured")
	default:
		return status.Error(codes.Internal, e.ErrInternalServerError.Error())
	}
}
