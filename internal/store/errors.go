package store

import (
	apperrors "github.com/jwalitptl/rx-portal/pkg/errors"
)

// Op names a Store operation.
type Op string

const (
	OpFetchPrescriptions Op = "fetch_prescriptions"
	OpFetchPrescription  Op = "fetch_prescription"
	OpRequestRefill      Op = "request_refill"
)

// Display messages surfaced to consumers. They never carry failure details.
const (
	MsgFetchPrescriptions = "Failed to fetch prescriptions"
	MsgFetchPrescription  = "Failed to fetch prescription"
	MsgRequestRefill      = "Failed to request refill"
)

var messages = map[Op]string{
	OpFetchPrescriptions: MsgFetchPrescriptions,
	OpFetchPrescription:  MsgFetchPrescription,
	OpRequestRefill:      MsgRequestRefill,
}

// OperationError is the error held in State. Message is the fixed display
// text for Op; Code and Err keep the repository failure for callers that
// need to branch on the cause.
type OperationError struct {
	Op      Op
	Message string
	Code    apperrors.ErrorCode
	Err     error
}

func newOperationError(op Op, err error) *OperationError {
	return &OperationError{
		Op:      op,
		Message: messages[op],
		Code:    apperrors.CodeOf(err),
		Err:     err,
	}
}

func (e *OperationError) Error() string {
	return e.Message
}

func (e *OperationError) Unwrap() error {
	return e.Err
}
