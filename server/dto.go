package server

import (
	"encoding/json"
	"time"

	"immersion/actor"
	"immersion/convention"
	"immersion/outbox"
	"immersion/partnersync"
)

type signatoryRequest struct {
	Role      string  `json:"role"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Email     string  `json:"email"`
	Phone     *string `json:"phone,omitempty"`
}

type createRequest struct {
	AgencyID           string             `json:"agencyId"`
	Siret              string             `json:"siret"`
	InternshipKind     string             `json:"internshipKind,omitempty"`
	DateStart          time.Time          `json:"dateStart"`
	DateEnd            time.Time          `json:"dateEnd"`
	Schedule           json.RawMessage    `json:"schedule,omitempty"`
	BeneficiaryIsMinor bool               `json:"beneficiaryIsMinor,omitempty"`
	Signatories        []signatoryRequest `json:"signatories"`
}

func (req createRequest) toParams() convention.CreateParams {
	params := convention.CreateParams{
		AgencyID:           req.AgencyID,
		Siret:              req.Siret,
		InternshipKind:     req.InternshipKind,
		DateStart:          req.DateStart,
		DateEnd:            req.DateEnd,
		Schedule:           req.Schedule,
		BeneficiaryIsMinor: req.BeneficiaryIsMinor,
	}
	for _, s := range req.Signatories {
		params.Signatories = append(params.Signatories, convention.SignatoryParams{
			Role:      actor.Role(s.Role),
			FirstName: s.FirstName,
			LastName:  s.LastName,
			Email:     s.Email,
			Phone:     s.Phone,
		})
	}
	return params
}

type signRequest struct {
	Role string `json:"role"`
}

type justificationRequest struct {
	Justification string `json:"justification"`
}

type updateDraftRequest struct {
	DateStart *time.Time      `json:"dateStart,omitempty"`
	DateEnd   *time.Time      `json:"dateEnd,omitempty"`
	Schedule  json.RawMessage `json:"schedule,omitempty"`
	Siret     *string         `json:"siret,omitempty"`
	// UpdatedAt is the version the caller read; a stale value gets a 409.
	UpdatedAt time.Time `json:"updatedAt"`
}

type acceptRequest struct {
	DateStart *time.Time      `json:"dateStart,omitempty"`
	DateEnd   *time.Time      `json:"dateEnd,omitempty"`
	Schedule  json.RawMessage `json:"schedule,omitempty"`
}

func (req acceptRequest) toPatch() *convention.AcceptancePatch {
	if req.DateStart == nil && req.DateEnd == nil && len(req.Schedule) == 0 {
		return nil
	}
	return &convention.AcceptancePatch{
		DateStart: req.DateStart,
		DateEnd:   req.DateEnd,
		Schedule:  req.Schedule,
	}
}

type renewRequest struct {
	DateStart time.Time       `json:"dateStart"`
	DateEnd   time.Time       `json:"dateEnd"`
	Schedule  json.RawMessage `json:"schedule,omitempty"`
}

type skipRequest struct {
	Reason string `json:"reason"`
}

type signatoryResponse struct {
	Role      string     `json:"role"`
	Required  bool       `json:"required"`
	FirstName string     `json:"firstName"`
	LastName  string     `json:"lastName"`
	Email     string     `json:"email"`
	Phone     *string    `json:"phone,omitempty"`
	SignedAt  *time.Time `json:"signedAt,omitempty"`
}

type conventionResponse struct {
	ID                  string              `json:"id"`
	Status              string              `json:"status"`
	AgencyID            string              `json:"agencyId"`
	Siret               string              `json:"siret"`
	InternshipKind      string              `json:"internshipKind"`
	DateSubmitted       *time.Time          `json:"dateSubmitted,omitempty"`
	DateValidated       *time.Time          `json:"dateValidated,omitempty"`
	DateStart           time.Time           `json:"dateStart"`
	DateEnd             time.Time           `json:"dateEnd"`
	Schedule            json.RawMessage     `json:"schedule,omitempty"`
	StatusJustification *string             `json:"statusJustification,omitempty"`
	RenewedFrom         *string             `json:"renewedFrom,omitempty"`
	CreatedAt           time.Time           `json:"createdAt"`
	UpdatedAt           time.Time           `json:"updatedAt"`
	Signatories         []signatoryResponse `json:"signatories"`
}

func toConventionResponse(c convention.Convention) conventionResponse {
	resp := conventionResponse{
		ID:                  c.ID,
		Status:              string(c.Status),
		AgencyID:            c.AgencyID,
		Siret:               c.Siret,
		InternshipKind:      c.InternshipKind,
		DateSubmitted:       c.DateSubmitted,
		DateValidated:       c.DateValidated,
		DateStart:           c.DateStart,
		DateEnd:             c.DateEnd,
		Schedule:            c.Schedule,
		StatusJustification: c.StatusJustification,
		RenewedFrom:         c.RenewedFrom,
		CreatedAt:           c.CreatedAt,
		UpdatedAt:           c.UpdatedAt,
	}
	for _, s := range c.Signatories {
		resp.Signatories = append(resp.Signatories, signatoryResponse{
			Role:      string(s.Role),
			Required:  s.Required,
			FirstName: s.FirstName,
			LastName:  s.LastName,
			Email:     s.Email,
			Phone:     s.Phone,
			SignedAt:  s.SignedAt,
		})
	}
	return resp
}

type quarantinedResponse struct {
	Events []outbox.Event `json:"events"`
}

type syncResponse struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"`
	ProcessDate *time.Time `json:"processDate,omitempty"`
	Reason      *string    `json:"reason,omitempty"`
}

func toSyncResponse(record partnersync.ConventionToSync) syncResponse {
	return syncResponse{
		ID:          record.ID,
		Status:      string(record.Status),
		ProcessDate: record.ProcessDate,
		Reason:      record.Reason,
	}
}
