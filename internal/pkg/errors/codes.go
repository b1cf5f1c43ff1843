package errors

import "net/http"

// The six error kinds from the error handling design, each a package-level
// AppError value. error_type in callback payloads is the Code field.
var (
	ErrInvalidInput = New(
		"InvalidInput",
		"missing required fields, out-of-range year, or invalid geometry",
		http.StatusBadRequest,
	)

	ErrNoDataAvailable = New(
		"NoDataAvailable",
		"raster service returned no pixels intersecting the geometry",
		http.StatusInternalServerError,
	)

	ErrComputationTimeout = New(
		"ComputationTimeout",
		"raster-compute operation exceeded its wall-clock guard",
		http.StatusInternalServerError,
	)

	ErrRasterServiceUnavailable = New(
		"RasterServiceUnavailable",
		"raster-compute service is unreachable",
		http.StatusServiceUnavailable,
	)

	ErrBrokerUnavailable = New(
		"BrokerUnavailable",
		"task broker rejected the enqueue",
		http.StatusServiceUnavailable,
	)

	ErrMissingTile = New(
		"MissingTile",
		"requested tile does not exist",
		http.StatusNotFound,
	)

	ErrInvalidGeometry = New(
		"InvalidGeometry",
		"geometry is empty, self-intersecting, or has unmeasurable area",
		http.StatusBadRequest,
	)

	ErrRecordNotFound = New(
		"RecordNotFound",
		"no matching registry record",
		http.StatusNotFound,
	)

	ErrInternalServer = New(
		"InternalServerError",
		"internal server error",
		http.StatusInternalServerError,
	)
)
