package hub

import "errors"

var (
	ErrInvalidUsername = errors.New("username must be at least 2 characters")
	ErrMissingUsername = errors.New("username is required")
	ErrLobbyNotFound   = errors.New("lobby not found")
	// ErrMissingSession is returned on the channel path, where it is logged
	// and otherwise ignored.
	ErrMissingSession = errors.New("missing session")
	ErrHubClosed      = errors.New("hub closed")
	ErrNoFreeCode     = errors.New("could not find a free lobby code")
)
