package utils

import "time"

// Application Constants
const (
	AppName    = "RideHail"
	AppVersion = "1.0.0"

	// Pagination
	DefaultPageSize = 20
	MaxPageSize     = 100
	MinPageSize     = 1
)

// Dispatch Constants
const (
	// MaxConcurrentRides is the hard cap on rides a driver may hold at once.
	MaxConcurrentRides = 5

	// OfferWindow is how long a driver holds an exclusive offer before the
	// coordinator escalates to the next candidate.
	OfferWindow = 20 * time.Second

	// GlobalDispatchTimeout bounds the whole matching attempt; when it
	// fires an unmatched ride is cancelled by the system.
	GlobalDispatchTimeout = 60 * time.Second

	// SearchRadiusMeters is the candidate search radius around the pickup.
	SearchRadiusMeters = 500.0

	// Rating bounds
	MinRating = 1.0
	MaxRating = 5.0
)

// User types carried in JWT claims.
const (
	UserTypePassenger = "passenger"
	UserTypeDriver    = "driver"
	UserTypeAdmin     = "admin"
)

// HTTP Status Messages
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Error Messages
const (
	ErrInternalServer   = "internal server error"
	ErrUnauthorized     = "unauthorized"
	ErrForbidden        = "forbidden"
	ErrValidationFailed = "validation failed"
)

// Real-time event names pushed over the websocket hub.
const (
	EventRideRequest          = "ride_request"
	EventRideAccepted         = "ride_accepted"
	EventRideAcceptConfirmed  = "ride_accept_confirmed"
	EventRideTaken            = "ride_taken"
	EventRideStatusUpdate     = "ride_status_update"
	EventRideCancelled        = "ride_cancelled"
	EventDriverLocationUpdate = "driver_location_update"
)
