package relay

import "errors"

var (
	errAuthExpected = errors.New("first envelope was not auth")
	errAuthFailed   = errors.New("auth token mismatch")
	errInvalidRole  = errors.New("unrecognized role")
)
