package moderation

import "fmt"

// Action is a moderator decision applied to a content item
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
	ActionHide    Action = "hide"
	ActionDelete  Action = "delete"
)

// ParseAction validates a wire value into an Action
func ParseAction(s string) (Action, error) {
	a := Action(s)
	switch a {
	case ActionApprove, ActionReject, ActionHide, ActionDelete:
		return a, nil
	}
	return "", fmt.Errorf("%w: unknown action %q", ErrValidation, s)
}

// Permission returns the capability required to perform the action
func (a Action) Permission() Permission {
	switch a {
	case ActionDelete:
		return PermissionDeleteContent
	case ActionApprove, ActionReject, ActionHide:
		return PermissionModerate
	}
	panic("moderation: unhandled action " + string(a))
}

// AuditAction returns the audit log action recorded for an applied action
func (a Action) AuditAction() AuditAction {
	switch a {
	case ActionApprove:
		return AuditActionApprove
	case ActionReject:
		return AuditActionReject
	case ActionHide:
		return AuditActionHide
	case ActionDelete:
		return AuditActionDelete
	}
	panic("moderation: unhandled action " + string(a))
}

// Outcome returns how pending reports are closed when the action is applied
func (a Action) Outcome() ReportOutcome {
	if a == ActionApprove {
		return OutcomeNoAction
	}
	return OutcomeViolation
}

// PastTense is used in user-facing messages
func (a Action) PastTense() string {
	switch a {
	case ActionApprove:
		return "approved"
	case ActionReject:
		return "rejected"
	case ActionHide:
		return "hidden"
	case ActionDelete:
		return "deleted"
	}
	return string(a)
}

// Transition computes the status reached by applying action to an item in status from.
// changed is false when the item is already in the requested state; such repeats succeed
// as no-ops so retries are safe.
func Transition(from ContentStatus, action Action) (to ContentStatus, changed bool, err error) {
	if from == StatusDeleted {
		if action == ActionDelete {
			return StatusDeleted, false, nil
		}
		return from, false, fmt.Errorf("%w: already deleted", ErrInvalidStateTransition)
	}

	switch action {
	case ActionApprove:
		switch from {
		case StatusPending, StatusFlagged:
			return StatusApproved, true, nil
		case StatusApproved:
			return StatusApproved, false, nil
		}
	case ActionReject:
		switch from {
		case StatusPending, StatusFlagged:
			return StatusRejected, true, nil
		case StatusRejected:
			return StatusRejected, false, nil
		}
	case ActionHide:
		switch from {
		case StatusPending, StatusFlagged, StatusApproved, StatusRejected:
			return StatusHidden, true, nil
		case StatusHidden:
			return StatusHidden, false, nil
		}
	case ActionDelete:
		return StatusDeleted, true, nil
	default:
		return from, false, fmt.Errorf("%w: unknown action %q", ErrValidation, action)
	}

	return from, false, fmt.Errorf("%w: cannot %s content that is already %s", ErrInvalidStateTransition, action, from)
}
