package hla

import (
	"errors"
	"fmt"
)

// ErrorKind tags every failure surfaced by the runtime.
type ErrorKind uint16

// Error kinds. Values travel on the wire inside responses and must stay stable.
const (
	KindNone ErrorKind = iota

	// Protocol and validation failures.
	KindFederationExecutionAlreadyExists
	KindFederationExecutionDoesNotExist
	KindFederatesCurrentlyJoined
	KindFederateAlreadyExecutionMember
	KindFederateNotExecutionMember
	KindFederateNameAlreadyInUse
	KindObjectClassNotDefined
	KindObjectClassNotPublished
	KindAttributeNotDefined
	KindAttributeNotOwned
	KindInteractionClassNotDefined
	KindInteractionClassNotPublished
	KindInteractionParameterNotDefined
	KindObjectNotKnown
	KindObjectInstanceNameInUse
	KindObjectInstanceNameNotReserved
	KindSynchronizationPointLabelInUse
	KindSynchronizationPointLabelNotAnnounced
	KindCouldNotOpenObjectModel

	// State machine violations.
	KindSaveInProgress
	KindSaveNotInitiated
	KindRestoreInProgress
	KindRestoreNotRequested
	KindRestoreNotInitiated
	KindRestoreRequestFailed
	KindDeletePrivilegeNotHeld
	KindTimeAdvanceAlreadyInProgress
	KindTimeRegulationAlreadyEnabled
	KindTimeRegulationNotEnabled
	KindTimeConstrainedAlreadyEnabled
	KindTimeConstrainedNotEnabled

	// Time policy violations.
	KindInvalidLookahead
	KindInvalidLogicalTime
	KindAsynchronousDeliveryAlreadyEnabled
	KindAsynchronousDeliveryAlreadyDisabled

	// Transport and internal failures.
	KindNotConnected
	KindNoResponse
	KindMalformedMessage
	KindInternal
)

var kindNames = map[ErrorKind]string{
	KindNone:                                  "None",
	KindFederationExecutionAlreadyExists:      "FederationExecutionAlreadyExists",
	KindFederationExecutionDoesNotExist:       "FederationExecutionDoesNotExist",
	KindFederatesCurrentlyJoined:              "FederatesCurrentlyJoined",
	KindFederateAlreadyExecutionMember:        "FederateAlreadyExecutionMember",
	KindFederateNotExecutionMember:            "FederateNotExecutionMember",
	KindFederateNameAlreadyInUse:              "FederateNameAlreadyInUse",
	KindObjectClassNotDefined:                 "ObjectClassNotDefined",
	KindObjectClassNotPublished:               "ObjectClassNotPublished",
	KindAttributeNotDefined:                   "AttributeNotDefined",
	KindAttributeNotOwned:                     "AttributeNotOwned",
	KindInteractionClassNotDefined:            "InteractionClassNotDefined",
	KindInteractionClassNotPublished:          "InteractionClassNotPublished",
	KindInteractionParameterNotDefined:        "InteractionParameterNotDefined",
	KindObjectNotKnown:                        "ObjectNotKnown",
	KindObjectInstanceNameInUse:               "ObjectInstanceNameInUse",
	KindObjectInstanceNameNotReserved:         "ObjectInstanceNameNotReserved",
	KindSynchronizationPointLabelInUse:        "SynchronizationPointLabelInUse",
	KindSynchronizationPointLabelNotAnnounced: "SynchronizationPointLabelNotAnnounced",
	KindCouldNotOpenObjectModel:               "CouldNotOpenObjectModel",
	KindSaveInProgress:                        "SaveInProgress",
	KindSaveNotInitiated:                      "SaveNotInitiated",
	KindRestoreInProgress:                     "RestoreInProgress",
	KindRestoreNotRequested:                   "RestoreNotRequested",
	KindRestoreNotInitiated:                   "RestoreNotInitiated",
	KindRestoreRequestFailed:                 "RestoreRequestFailed",
	KindDeletePrivilegeNotHeld:                "DeletePrivilegeNotHeld",
	KindTimeAdvanceAlreadyInProgress:          "TimeAdvanceAlreadyInProgress",
	KindTimeRegulationAlreadyEnabled:          "TimeRegulationAlreadyEnabled",
	KindTimeRegulationNotEnabled:              "TimeRegulationNotEnabled",
	KindTimeConstrainedAlreadyEnabled:         "TimeConstrainedAlreadyEnabled",
	KindTimeConstrainedNotEnabled:             "TimeConstrainedNotEnabled",
	KindInvalidLookahead:                      "InvalidLookahead",
	KindInvalidLogicalTime:                    "InvalidLogicalTime",
	KindAsynchronousDeliveryAlreadyEnabled:    "AsynchronousDeliveryAlreadyEnabled",
	KindAsynchronousDeliveryAlreadyDisabled:   "AsynchronousDeliveryAlreadyDisabled",
	KindNotConnected:                          "NotConnected",
	KindNoResponse:                            "NoResponse",
	KindMalformedMessage:                      "MalformedMessage",
	KindInternal:                              "Internal",
}

// String returns the kind name.
func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}

	return fmt.Sprintf("ErrorKind(%d)", uint16(k))
}

// Internal reports whether the kind belongs to the transport/internal class.
func (k ErrorKind) Internal() bool {
	return k >= KindNotConnected
}

// Error is a failure tagged with its kind.
type Error struct {
	Kind  ErrorKind // Kind classifies the failure
	Msg   string    // Msg is a human readable description
	Cause error     // Cause is the underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Msg == "" && e.Cause == nil:
		return e.Kind.String()
	case e.Cause == nil:
		return e.Kind.String() + ": " + e.Msg
	case e.Msg == "":
		return e.Kind.String() + ": " + e.Cause.Error()
	default:
		return e.Kind.String() + ": " + e.Msg + ": " + e.Cause.Error()
	}
}

// Unwrap exposes the cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error of the same kind, so sentinels work with errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}

	return t.Kind == e.Kind
}

// Errorf creates a tagged error with a formatted message.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap tags a cause with a kind.
func Wrap(kind ErrorKind, cause error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// KindOf returns the kind of err, KindInternal for untagged errors and KindNone for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}

	return KindInternal
}

// Sentinels for errors.Is checks.
var (
	ErrFederationExecutionAlreadyExists = &Error{Kind: KindFederationExecutionAlreadyExists}
	ErrFederationExecutionDoesNotExist  = &Error{Kind: KindFederationExecutionDoesNotExist}
	ErrFederatesCurrentlyJoined         = &Error{Kind: KindFederatesCurrentlyJoined}
	ErrFederateAlreadyExecutionMember   = &Error{Kind: KindFederateAlreadyExecutionMember}
	ErrFederateNotExecutionMember       = &Error{Kind: KindFederateNotExecutionMember}
	ErrFederateNameAlreadyInUse         = &Error{Kind: KindFederateNameAlreadyInUse}
	ErrCouldNotOpenObjectModel          = &Error{Kind: KindCouldNotOpenObjectModel}
	ErrObjectClassNotDefined            = &Error{Kind: KindObjectClassNotDefined}
	ErrObjectClassNotPublished          = &Error{Kind: KindObjectClassNotPublished}
	ErrAttributeNotDefined              = &Error{Kind: KindAttributeNotDefined}
	ErrAttributeNotOwned                = &Error{Kind: KindAttributeNotOwned}
	ErrInteractionClassNotDefined       = &Error{Kind: KindInteractionClassNotDefined}
	ErrInteractionClassNotPublished     = &Error{Kind: KindInteractionClassNotPublished}
	ErrInteractionParameterNotDefined   = &Error{Kind: KindInteractionParameterNotDefined}
	ErrObjectNotKnown                   = &Error{Kind: KindObjectNotKnown}
	ErrObjectInstanceNameInUse          = &Error{Kind: KindObjectInstanceNameInUse}
	ErrObjectInstanceNameNotReserved    = &Error{Kind: KindObjectInstanceNameNotReserved}
	ErrSyncPointLabelInUse              = &Error{Kind: KindSynchronizationPointLabelInUse}
	ErrSyncPointLabelNotAnnounced       = &Error{Kind: KindSynchronizationPointLabelNotAnnounced}
	ErrSaveInProgress                   = &Error{Kind: KindSaveInProgress}
	ErrSaveNotInitiated                 = &Error{Kind: KindSaveNotInitiated}
	ErrRestoreInProgress                = &Error{Kind: KindRestoreInProgress}
	ErrRestoreNotRequested              = &Error{Kind: KindRestoreNotRequested}
	ErrRestoreNotInitiated              = &Error{Kind: KindRestoreNotInitiated}
	ErrRestoreRequestFailed             = &Error{Kind: KindRestoreRequestFailed}
	ErrDeletePrivilegeNotHeld           = &Error{Kind: KindDeletePrivilegeNotHeld}
	ErrTimeAdvanceInProgress            = &Error{Kind: KindTimeAdvanceAlreadyInProgress}
	ErrTimeRegulationAlreadyEnabled     = &Error{Kind: KindTimeRegulationAlreadyEnabled}
	ErrTimeRegulationNotEnabled         = &Error{Kind: KindTimeRegulationNotEnabled}
	ErrTimeConstrainedAlreadyEnabled    = &Error{Kind: KindTimeConstrainedAlreadyEnabled}
	ErrTimeConstrainedNotEnabled        = &Error{Kind: KindTimeConstrainedNotEnabled}
	ErrInvalidLookahead                 = &Error{Kind: KindInvalidLookahead}
	ErrInvalidLogicalTime               = &Error{Kind: KindInvalidLogicalTime}
	ErrAsyncDeliveryAlreadyEnabled      = &Error{Kind: KindAsynchronousDeliveryAlreadyEnabled}
	ErrAsyncDeliveryAlreadyDisabled     = &Error{Kind: KindAsynchronousDeliveryAlreadyDisabled}
	ErrNotConnected                     = &Error{Kind: KindNotConnected}
	ErrNoResponse                       = &Error{Kind: KindNoResponse}
	ErrMalformedMessage                 = &Error{Kind: KindMalformedMessage}
	ErrInternal                         = &Error{Kind: KindInternal}
)
