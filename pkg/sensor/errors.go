package sensor

import "errors"

var (
	ErrAlreadyRunning       = errors.New("gateway already running")
	ErrValidation           = errors.New("malformed telemetry payload")
	ErrUnknownSensor        = errors.New("reading from unregistered sensor")
	ErrMaxReconnectExceeded = errors.New("socket reconnect attempts exhausted")
	ErrPubSubConnect        = errors.New("pub/sub transport connect failed")
)
