package client

import "errors"

// The gateway has no session that could authenticate the request,
// or the one it had could not be refreshed. Caller has to login again.
var ErrAuthExpired = errors.New("authentication expired")
