package validation

// ErrorCode is an error that also carries a reference to a validation code
// in an OCFL specification.
type ErrorCode interface {
	error
	OCFLRef() *Ref
}

// NewErrorCode wraps err with a reference to a spec validation code.
func NewErrorCode(err error, ref *Ref) ErrorCode {
	return &vErr{error: err, ref: ref}
}

// vErr is an error from a validation check, with an optional spec reference
type vErr struct {
	error
	ref *Ref
}

func (e *vErr) OCFLRef() *Ref {
	return e.ref
}

func (e *vErr) Unwrap() error {
	return e.error
}

func (e *vErr) Code() string {
	if e.ref == nil {
		return ""
	}
	return e.ref.Code
}

func (e *vErr) Description() string {
	if e.ref == nil {
		return ""
	}
	return e.ref.Description
}

func (e *vErr) URL() string {
	if e.ref == nil {
		return ""
	}
	return e.ref.URL
}
