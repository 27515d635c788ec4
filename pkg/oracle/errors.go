package oracle

import "errors"

var (
	ErrAlreadyRunning      = errors.New("oracle service already running")
	ErrNoPriceData         = errors.New("all price sources failed")
	ErrUnknownOracle       = errors.New("no oracle with that id")
	ErrUnsupportedProvider = errors.New("unsupported weather provider")
	ErrValueNotFound       = errors.New("value not found in response")
	ErrBadStatus           = errors.New("source returned non-2xx status")
)
