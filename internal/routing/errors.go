package routing

import "errors"

var (
	// ErrUnknownAdapterType is returned when a rule references an adapter
	// type with no registered factory
	ErrUnknownAdapterType = errors.New("unknown adapter type")

	// ErrRemoteServerNotFound is returned when a rule references a remote
	// server config that does not exist
	ErrRemoteServerNotFound = errors.New("remote server config not found")

	// ErrItemNotFound is returned when distribution is requested for a
	// missing item
	ErrItemNotFound = errors.New("item not found")
)
