package geocodesvc

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/sargeom/calendar"
	"github.com/signalsfoundry/sargeom/core"
	"github.com/signalsfoundry/sargeom/ephemeris"
	"github.com/signalsfoundry/sargeom/internal/metadatasrc"
	"github.com/signalsfoundry/sargeom/kb"
	"github.com/signalsfoundry/sargeom/model"
)

var (
	// ErrModelNotFound is returned for requests naming an unknown model id.
	ErrModelNotFound = errors.New("model not found")
	// ErrModelExists is returned when loading under an id already in use.
	ErrModelExists = errors.New("model already loaded")
	// ErrInvalidRequest is returned for missing or mistyped request fields.
	ErrInvalidRequest = errors.New("invalid request")
)

// ToStatusError maps sensor model and service errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()

	case errors.Is(err, ErrModelNotFound),
		errors.Is(err, metadatasrc.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrModelExists):
		return status.Error(codes.AlreadyExists, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, metadatasrc.ErrUnsupportedScheme),
		errors.Is(err, core.ErrUnknownModel),
		errors.Is(err, core.ErrInvalidPoint),
		errors.Is(err, core.ErrInvalidMetadata),
		errors.Is(err, kb.ErrMissingKey),
		errors.Is(err, kb.ErrMalformedValue),
		errors.Is(err, calendar.ErrMalformedDate),
		errors.Is(err, ephemeris.ErrNoEphemeris),
		errors.Is(err, ephemeris.ErrMixedFrames),
		errors.Is(err, model.ErrInvalidRefPoint),
		errors.Is(err, model.ErrInvalidSensorParams),
		errors.Is(err, model.ErrDegenerateSRGR):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrNoIntersection),
		errors.Is(err, ephemeris.ErrOutOfRange):
		return status.Error(codes.OutOfRange, err.Error())

	case errors.Is(err, core.ErrNotReady),
		errors.Is(err, core.ErrNotConverged):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
