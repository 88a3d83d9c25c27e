package convention

import "immersion/actor"

// Status is the convention lifecycle state.
type Status string

const (
	StatusDraft                Status = "DRAFT"
	StatusReadyToSign          Status = "READY_TO_SIGN"
	StatusPartiallySigned      Status = "PARTIALLY_SIGNED"
	StatusInReview             Status = "IN_REVIEW"
	StatusAcceptedByCounsellor Status = "ACCEPTED_BY_COUNSELLOR"
	StatusAcceptedByValidator  Status = "ACCEPTED_BY_VALIDATOR"
	StatusValidated            Status = "VALIDATED"
	StatusRejected             Status = "REJECTED"
	StatusCancelled            Status = "CANCELLED"
	StatusDeprecated           Status = "DEPRECATED"
)

var transitions = map[Status][]Status{
	StatusDraft:                {StatusReadyToSign, StatusRejected},
	StatusReadyToSign:          {StatusPartiallySigned, StatusInReview, StatusRejected},
	StatusPartiallySigned:      {StatusPartiallySigned, StatusReadyToSign, StatusInReview, StatusRejected},
	StatusInReview:             {StatusAcceptedByCounsellor, StatusRejected},
	StatusAcceptedByCounsellor: {StatusAcceptedByValidator, StatusCancelled},
	StatusAcceptedByValidator:  {StatusValidated, StatusCancelled},
	StatusValidated:            {StatusDeprecated, StatusCancelled},
	StatusRejected:             {},
	StatusCancelled:            {},
	StatusDeprecated:           {},
}

// IsValid reports whether the status is part of the lifecycle.
func (s Status) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves the status.
func (s Status) IsTerminal() bool {
	next, ok := transitions[s]
	return ok && len(next) == 0
}

// CanTransitionTo reports whether the edge from s to next exists.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsSignable reports whether a signature can still be recorded.
func (s Status) IsSignable() bool {
	return s == StatusReadyToSign || s == StatusPartiallySigned
}

// requiresAllSignatures lists the statuses only reachable once every required
// signatory has signed.
func (s Status) requiresAllSignatures() bool {
	switch s {
	case StatusInReview, StatusAcceptedByCounsellor, StatusAcceptedByValidator, StatusValidated:
		return true
	default:
		return false
	}
}

// requiresJustification lists the statuses whose entry needs a reason.
func (s Status) requiresJustification() bool {
	return s == StatusRejected || s == StatusCancelled
}

// roleMayEnter reports whether the actor role may drive a transition into the
// given status. Signature-driven transitions are guarded separately by Sign.
func roleMayEnter(role actor.Role, next Status) bool {
	switch next {
	case StatusReadyToSign:
		return role == actor.RoleBeneficiary || role == actor.RoleCounsellor || role == actor.RoleBackOffice
	case StatusAcceptedByCounsellor:
		return role == actor.RoleCounsellor
	case StatusAcceptedByValidator, StatusValidated:
		return role == actor.RoleValidator
	case StatusRejected:
		return role == actor.RoleCounsellor || role == actor.RoleValidator || role == actor.RoleBackOffice
	case StatusCancelled:
		return role == actor.RoleValidator || role == actor.RoleBackOffice
	default:
		return false
	}
}
