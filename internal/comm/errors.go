package comm

import "github.com/pkg/errors"

var (
	// ErrConnectionTimeout means the broker did not confirm the
	// connection within the configured timeout.
	ErrConnectionTimeout = errors.New("mqtt connection timeout")

	// ErrNotConnected means an operation required an active session.
	ErrNotConnected = errors.New("mqtt client is not connected")

	// ErrPublishFailure means the underlying send reported an error.
	ErrPublishFailure = errors.New("mqtt publish failure")

	// ErrMissingClientID means the session options lacked a client id.
	ErrMissingClientID = errors.New("clientID is required")
)
