package transfer

import "errors"

var (
	// ErrNoTarget means a send named no receiving device.
	ErrNoTarget = errors.New("no target device selected")
	// ErrEmptyPayload means a send carried neither files nor text.
	ErrEmptyPayload = errors.New("nothing to send")
	// ErrMixedPayload means a send carried both files and text.
	ErrMixedPayload = errors.New("send either files or text, not both")
)
