package envelope

// ErrorType is the closed set of dotted strings used as an envelope's
// Type when the envelope itself represents a failure reply. Any type
// outside this set is, from the receiver's perspective, unrecognized.
type ErrorType string

const (
	ErrValidation           ErrorType = "error.validation"
	ErrUnknownMessageType   ErrorType = "error.unknown_message_type"
	ErrInvalidInput         ErrorType = "error.invalid_input"
	ErrInvalidMessageFormat ErrorType = "error.invalid_message_format"
	ErrInternalServer       ErrorType = "error.internal_server_error"
	ErrRouting              ErrorType = "error.routing_error"
	ErrProcessing           ErrorType = "error.processing_error"
	ErrQueueOverload        ErrorType = "error.queue_overload"
	ErrMessageUndeliverable ErrorType = "error.message_undeliverable"
	ErrAuthenticationFailed ErrorType = "error.authentication_failed"
	ErrPermissionDenied     ErrorType = "error.permission_denied"
	ErrConnection           ErrorType = "error.connection_error"
	ErrSystem               ErrorType = "error.system_error"
)

var knownErrorTypes = map[ErrorType]struct{}{
	ErrValidation:           {},
	ErrUnknownMessageType:   {},
	ErrInvalidInput:         {},
	ErrInvalidMessageFormat: {},
	ErrInternalServer:       {},
	ErrRouting:              {},
	ErrProcessing:           {},
	ErrQueueOverload:        {},
	ErrMessageUndeliverable: {},
	ErrAuthenticationFailed: {},
	ErrPermissionDenied:     {},
	ErrConnection:           {},
	ErrSystem:               {},
}

// IsKnownErrorType reports whether t is a member of the closed error
// taxonomy.
func IsKnownErrorType(t string) bool {
	_, ok := knownErrorTypes[ErrorType(t)]
	return ok
}

// NewError builds an error-kind envelope addressed back to the
// originator of origMsg, carrying its id in the payload so the client
// can correlate the failure with its request.
func NewError(kind ErrorType, origin string, origMsg *Envelope, detail string) *Envelope {
	payload := map[string]any{
		"error":              detail,
		"original_message_id": origMsg.ID,
	}
	return New(string(kind),
		WithPayload(payload),
		WithOrigin(origin),
		WithDestination(origMsg.ClientID),
		WithClientID(origMsg.ClientID),
	)
}
