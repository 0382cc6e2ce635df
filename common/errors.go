package common

import (
	"fmt"

	"github.com/pkg/errors"
)

// Code is the error taxonomy of spec §7: a small closed set of codes, not
// types, latched on the Response Handler and surfaced through Job status.
type Code int

const (
	CodeNone Code = 0

	MsgResultDecode Code = 100
	MsgResultMD5    Code = 101
	MsgResultError  Code = 102

	ProvisionNack Code = 200

	ResponseDataNack         Code = 300
	ResponseDataErrorCorrupt Code = 301
	ResponseDataErrorOK      Code = 302

	MergeError Code = 400

	Cancel Code = 500
)

func (c Code) String() string {
	switch c {
	case CodeNone:
		return "NONE"
	case MsgResultDecode:
		return "MSG_RESULT_DECODE"
	case MsgResultMD5:
		return "MSG_RESULT_MD5"
	case MsgResultError:
		return "MSG_RESULT_ERROR"
	case ProvisionNack:
		return "PROVISION_NACK"
	case ResponseDataNack:
		return "RESPONSE_DATA_NACK"
	case ResponseDataErrorCorrupt:
		return "RESPONSE_DATA_ERROR_CORRUPT"
	case ResponseDataErrorOK:
		return "RESPONSE_DATA_ERROR_OK"
	case MergeError:
		return "MERGE_ERROR"
	case Cancel:
		return "CANCEL"
	default:
		return fmt.Sprintf("CODE(%d)", int(c))
	}
}

// Retryable reports whether a failure of this class should drive a Job back
// into PROVISION (subject to retryCount/maxRetries), per spec §4.8/§7.
func (c Code) Retryable() bool {
	switch c {
	case ProvisionNack, ResponseDataNack:
		return true
	default:
		return false
	}
}

// Error is the (code, message) pair latched by the Response Handler and
// exposed through the per-query MessageStore.
type Error struct {
	Code Code
	Msg  string
}

func (e Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// NewError builds a latchable Error, appending any underlying cause's
// message (via github.com/pkg/errors) to msg. Only the cause's text is
// kept; the Error carries no stack trace.
func NewError(code Code, msg string, cause error) Error {
	if cause != nil {
		msg = fmt.Sprintf("%s: %s", msg, errors.WithMessage(cause, "").Error())
	}
	return Error{Code: code, Msg: msg}
}
