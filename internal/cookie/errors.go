package cookie

import "errors"

// InvalidCookieError reports a cookie with a shape outside the accepted
// wire forms. It is fatal at ingestion: the pull that carried it must be
// rejected.
type InvalidCookieError struct {
	Reason string
}

func (e *InvalidCookieError) Error() string {
	return "invalid cookie: " + e.Reason
}

// IsInvalid reports whether err is, or wraps, an *InvalidCookieError.
func IsInvalid(err error) bool {
	var ie *InvalidCookieError
	return errors.As(err, &ie)
}
