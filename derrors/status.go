package derrors

// Status is the numeric reply carried on every node-operation response.
//
// Codes follow the HTTP-ish convention the node's callers check:
// 202 means a message was accepted (or had already been accepted).
type Status struct {
	Code   int    `json:"code"`
	Detail string `json:"detail,omitempty"`
}

const (
	StatusOK           = 200
	StatusAccepted     = 202
	StatusInvalid      = 400
	StatusUnauthorized = 401
	StatusNotFound     = 404
	StatusConflict     = 409
	StatusInternal     = 500
)

// StatusFor maps a structured error to a reply status.
// A nil error maps to 202 Accepted; use OK() for read replies.
func StatusFor(err error) Status {
	if err == nil {
		return Status{Code: StatusAccepted}
	}
	code := StatusInternal
	switch {
	case IsKind(err, KindParse), IsKind(err, KindCanonical), IsKind(err, KindValidation), IsKind(err, KindCID):
		code = StatusInvalid
	case IsKind(err, KindAuthorize), IsKind(err, KindCrypto):
		code = StatusUnauthorized
	case IsKind(err, KindNotFound):
		code = StatusNotFound
	case IsKind(err, KindConflict):
		code = StatusConflict
	}
	return Status{Code: code, Detail: err.Error()}
}

// OK returns a 200 status.
func OK() Status { return Status{Code: StatusOK} }

// Accepted returns a 202 status.
func Accepted() Status { return Status{Code: StatusAccepted} }
