package email

// Status is the outcome of a send.
type Status int

const (
	StatusSent Status = iota
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSent:
		return "sent"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Response is the normalized result of a send. FailedReason is only set
// when Status is StatusFailed.
type Response struct {
	ID           string
	Status       Status
	FailedReason string
}

// Sent returns a successful response carrying the transport-assigned id.
func Sent(id string) *Response {
	return &Response{ID: id, Status: StatusSent}
}

// Failed returns a failed response with the given reason.
func Failed(reason string) *Response {
	return &Response{Status: StatusFailed, FailedReason: reason}
}

// FailedWithError returns a failed response describing err.
func FailedWithError(err error) *Response {
	return Failed(err.Error())
}

// OK reports whether the message was sent.
func (r *Response) OK() bool {
	return r != nil && r.Status == StatusSent
}
