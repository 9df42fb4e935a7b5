package common

import "errors"

var (
	// ErrSetupFailure is returned when the connection barrier could not be
	// established (listen, accept, dial or handshake failed). It is fatal.
	ErrSetupFailure = errors.New("channel setup failed")

	// ErrTransport is returned when a read or write on an established
	// connection fails.
	ErrTransport = errors.New("transport failure")

	// ErrChannelFailure is returned by the master for every send once any
	// worker failure has been observed.
	ErrChannelFailure = errors.New("channel failed")

	// ErrInvalidRank is returned when a message is addressed to the master
	// itself or to a rank outside the world.
	ErrInvalidRank = errors.New("invalid rank")

	// ErrNotInitialized is returned when a channel is used before Init.
	ErrNotInitialized = errors.New("channel not initialized")
)
