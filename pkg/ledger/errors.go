package ledger

import "errors"

var (
	ErrAlreadyRunning     = errors.New("ledger connector already running")
	ErrNetworkConnection  = errors.New("network connection failed")
	ErrContractExecution  = errors.New("contract execution failed")
	ErrContractRead       = errors.New("contract read failed")
	ErrUnknownContract    = errors.New("no contract bound at that address")
	ErrUnknownWallet      = errors.New("no wallet with that id")
	ErrNoWalletForNetwork = errors.New("no wallet available for the contract's network")
	ErrBadPrivateKey      = errors.New("invalid wallet private key")
	ErrBadParameter       = errors.New("parameter cannot be coerced to ABI type")
)
