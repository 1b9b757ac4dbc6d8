package error

// GenericError is implemented by every application error so the HTTP layer
// can map it onto a status code and a stable error code.
type GenericError interface {
	error
	ErrCode() string
	StatusCode() int
}
