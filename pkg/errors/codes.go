package errors

import (
	"fmt"
)

// Code is a machine-readable failure kind. The set is closed.
type Code string

const (
	CodePlannerUnknownObject Code = "ERR_PLANNER_UNKNOWN_OBJECT"
	CodePlannerBadOptions    Code = "ERR_PLANNER_BAD_OPTIONS"
	CodeGraphCycle           Code = "ERR_GRAPH_CYCLE"
	CodePhaseFatal           Code = "ERR_PHASE_FATAL"
	CodePhaseValidation      Code = "ERR_PHASE_VALIDATION"
	CodeBusUnknownEvent      Code = "ERR_BUS_UNKNOWN_EVENT"
	CodeCallbackFault        Code = "ERR_CALLBACK_FAULT"
)

var codeMessages = map[Code]string{
	CodePlannerUnknownObject: "requested migration object is not registered",
	CodePlannerBadOptions:    "malformed run options",
	CodeGraphCycle:           "circular dependency detected",
	CodePhaseFatal:           "migration phase failed",
	CodePhaseValidation:      "validation reported errors",
	CodeBusUnknownEvent:      "event type is not part of the progress bus vocabulary",
	CodeCallbackFault:        "progress callback failed",
}

// Codes returns every known code.
func Codes() []Code {
	return []Code{
		CodePlannerUnknownObject,
		CodePlannerBadOptions,
		CodeGraphCycle,
		CodePhaseFatal,
		CodePhaseValidation,
		CodeBusUnknownEvent,
		CodeCallbackFault,
	}
}

// Message returns the human readable description of the code.
func (c Code) Message() string {
	if msg, ok := codeMessages[c]; ok {
		return msg
	}
	return "unknown error"
}

// Valid reports whether c belongs to the closed set.
func (c Code) Valid() bool {
	_, ok := codeMessages[c]
	return ok
}

func (c Code) String() string { return string(c) }

// codedError attaches a Code to a cause.
type codedError struct {
	code  Code
	cause error
}

func (e *codedError) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.cause.Error())
}

func (e *codedError) Unwrap() error { return e.cause }

// Code returns the attached failure kind.
func (e *codedError) Code() Code { return e.code }

// NewCoded creates an error carrying code with a formatted message.
func NewCoded(code Code, format string, args ...interface{}) error {
	return &codedError{code: code, cause: Newf(format, args...)}
}

// WithCode attaches code to err. A nil err stays nil.
func WithCode(err error, code Code) error {
	if err == nil {
		return nil
	}
	return &codedError{code: code, cause: err}
}

// CodeOf returns the outermost code found in the chain of err.
func CodeOf(err error) (Code, bool) {
	var coded *codedError
	if As(err, &coded) {
		return coded.code, true
	}
	return "", false
}

// HasCode reports whether err carries code anywhere in its chain.
func HasCode(err error, code Code) bool {
	for err != nil {
		if coded, ok := err.(*codedError); ok && coded.code == code {
			return true
		}
		err = UnwrapOnce(err)
	}
	return false
}
