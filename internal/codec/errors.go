package codec

import "errors"

// Decode errors. A decoder never partially applies a malformed frame:
// on any of these, the caller drops the frame whole.
var (
	// ErrTruncatedPayload is returned when the buffer ends before a
	// length-prefixed or fixed-width field is fully present.
	ErrTruncatedPayload = errors.New("codec: truncated payload")

	// ErrUnknownType is returned for an envelope type byte the codec
	// does not recognize.
	ErrUnknownType = errors.New("codec: unknown message type")

	// ErrVersionMismatch is returned for an envelope protocol version
	// the codec does not support.
	ErrVersionMismatch = errors.New("codec: unsupported protocol version")

	// ErrBitmapOverflow is returned when an ACK's declared bitmap is
	// longer than the transfer's total_chunks allows.
	ErrBitmapOverflow = errors.New("codec: bitmap longer than declared chunk count")
)
