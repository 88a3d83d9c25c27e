package convention

import (
	"encoding/json"
	"time"

	"immersion/actor"
)

// Signatory is one party on a convention. SignedAt is set at most once; a
// signature is never physically erased, a rejection only voids it by moving
// the convention to a terminal status.
type Signatory struct {
	Role      actor.Role
	Required  bool
	FirstName string
	LastName  string
	Email     string
	Phone     *string
	SignedAt  *time.Time
}

// Convention is the immersion agreement aggregate. It is mutated only through
// the state machine and never physically deleted.
type Convention struct {
	ID                  string
	Status              Status
	AgencyID            string
	Siret               string
	InternshipKind      string
	DateSubmitted       *time.Time
	DateValidated       *time.Time
	DateStart           time.Time
	DateEnd             time.Time
	Schedule            json.RawMessage
	StatusJustification *string
	RenewedFrom         *string
	CreatedAt           time.Time
	UpdatedAt           time.Time
	Signatories         []Signatory
}

// Signatory returns the party holding the given role, or nil.
func (c *Convention) Signatory(role actor.Role) *Signatory {
	for i := range c.Signatories {
		if c.Signatories[i].Role == role {
			return &c.Signatories[i]
		}
	}
	return nil
}

// signingRoles are the parties whose signature can gate progress. The tutor
// is a party but never signs.
func signingRoles() []actor.Role {
	return []actor.Role{
		actor.RoleBeneficiary,
		actor.RoleBeneficiaryRepresentative,
		actor.RoleBeneficiaryCurrentEmployer,
		actor.RoleEstablishmentRepresentative,
	}
}

// MissingRequiredSignatures lists the required signing roles without a
// signature yet. Optional signatories never appear here.
func (c *Convention) MissingRequiredSignatures() []actor.Role {
	missing := []actor.Role{}
	for _, role := range signingRoles() {
		s := c.Signatory(role)
		if s == nil || !s.Required {
			continue
		}
		if s.SignedAt == nil {
			missing = append(missing, role)
		}
	}
	return missing
}

// AllRequiredSigned reports whether every required signatory has signed.
func (c *Convention) AllRequiredSigned() bool {
	return len(c.MissingRequiredSignatures()) == 0
}

// SignatoryParams describes one party at creation time.
type SignatoryParams struct {
	Role      actor.Role
	FirstName string
	LastName  string
	Email     string
	Phone     *string
}

// CreateParams is the input of the Create use case.
type CreateParams struct {
	AgencyID       string
	Siret          string
	InternshipKind string
	DateStart      time.Time
	DateEnd        time.Time
	Schedule       json.RawMessage
	// BeneficiaryIsMinor makes the beneficiary-representative a required
	// signatory. The representative must then be provided.
	BeneficiaryIsMinor bool
	Signatories        []SignatoryParams
}

// DraftPatch carries the fields a draft edit may change. Nil fields are left
// untouched.
type DraftPatch struct {
	DateStart *time.Time
	DateEnd   *time.Time
	Schedule  json.RawMessage
	Siret     *string
}

// AcceptancePatch carries the last-chance edits a counsellor or validator may
// apply atomically with their acceptance.
type AcceptancePatch struct {
	DateStart *time.Time
	DateEnd   *time.Time
	Schedule  json.RawMessage
}
