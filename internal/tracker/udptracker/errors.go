package udptracker

import "errors"

var (
	errShortPacket         = errors.New("udptracker: response shorter than expected")
	errTransactionMismatch = errors.New("udptracker: transaction id mismatch")
	errUnexpectedAction    = errors.New("udptracker: unexpected action in response")
)
