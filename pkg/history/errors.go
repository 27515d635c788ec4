package history

import "errors"

var (
	ErrOpenDB     = errors.New("failed to open database")
	ErrEnableWAL  = errors.New("failed to enable WAL mode")
	ErrInitSchema = errors.New("failed to initialize schema")
	ErrInsert     = errors.New("failed to insert")
	ErrQuery      = errors.New("failed to query")
	ErrScan       = errors.New("failed to scan")
	ErrClean      = errors.New("failed to clean")
)
