package convention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"immersion/actor"
	"immersion/outbox"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// BroadcastScheduler enrolls a convention for partner delivery inside the
// validation transaction.
type BroadcastScheduler interface {
	ScheduleTx(ctx context.Context, tx pgx.Tx, conventionID string) error
}

// Service drives the convention state machine. Every accepted transition
// persists the new aggregate state and exactly one domain event in a single
// transaction; a rejected transition performs no mutation at all.
type Service struct {
	pool        TxBeginner
	repo        Repository
	outbox      outbox.Repository
	broadcast   BroadcastScheduler
	events      *outbox.Factory
	now         func() time.Time
	idGenerator func() string
}

func NewService(pool TxBeginner, repo Repository, outboxRepo outbox.Repository, broadcast BroadcastScheduler) *Service {
	s := &Service{
		pool:        pool,
		repo:        repo,
		outbox:      outboxRepo,
		broadcast:   broadcast,
		now:         time.Now,
		idGenerator: func() string { return uuid.NewString() },
	}
	s.events = outbox.NewFactory()
	s.syncFactory()
	return s
}

func (s *Service) syncFactory() {
	s.events.WithClock(s.now).WithIDGenerator(s.idGenerator)
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.syncFactory()
	return s
}

func (s *Service) WithIDGenerator(gen func() string) *Service {
	s.idGenerator = gen
	s.syncFactory()
	return s
}

// Create registers a new convention in DRAFT. No event is emitted until
// submission makes the draft visible to the signing parties.
func (s *Service) Create(ctx context.Context, params CreateParams) (Convention, error) {
	c, err := s.buildDraft(params)
	if err != nil {
		return Convention{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.Insert(ctx, tx, c); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit create: %w", err)
	}

	return c, nil
}

func (s *Service) buildDraft(params CreateParams) (Convention, error) {
	if params.AgencyID == "" {
		return Convention{}, validationf("agency id is required")
	}
	if len(params.Siret) != 14 {
		return Convention{}, validationf("siret must be 14 characters")
	}
	if params.DateEnd.Before(params.DateStart) {
		return Convention{}, validationf("end date before start date")
	}

	now := s.now().UTC()
	c := Convention{
		ID:             s.idGenerator(),
		Status:         StatusDraft,
		AgencyID:       params.AgencyID,
		Siret:          params.Siret,
		InternshipKind: params.InternshipKind,
		DateStart:      params.DateStart,
		DateEnd:        params.DateEnd,
		Schedule:       params.Schedule,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if c.InternshipKind == "" {
		c.InternshipKind = "immersion"
	}

	seen := map[actor.Role]bool{}
	for _, p := range params.Signatories {
		if !p.Role.IsSignatory() {
			return Convention{}, validationf("role %q is not a convention party", p.Role)
		}
		if seen[p.Role] {
			return Convention{}, validationf("duplicate signatory role %q", p.Role)
		}
		seen[p.Role] = true
		if p.FirstName == "" || p.LastName == "" || p.Email == "" {
			return Convention{}, validationf("signatory %s needs name and email", p.Role)
		}
		c.Signatories = append(c.Signatories, Signatory{
			Role:      p.Role,
			Required:  requiredSignatory(p.Role, params.BeneficiaryIsMinor),
			FirstName: p.FirstName,
			LastName:  p.LastName,
			Email:     p.Email,
			Phone:     p.Phone,
		})
	}

	for _, role := range []actor.Role{actor.RoleBeneficiary, actor.RoleEstablishmentRepresentative, actor.RoleEstablishmentTutor} {
		if !seen[role] {
			return Convention{}, validationf("signatory %s is required", role)
		}
	}
	if params.BeneficiaryIsMinor && !seen[actor.RoleBeneficiaryRepresentative] {
		return Convention{}, validationf("a minor beneficiary requires a representative")
	}

	return c, nil
}

func requiredSignatory(role actor.Role, beneficiaryIsMinor bool) bool {
	switch role {
	case actor.RoleBeneficiary, actor.RoleEstablishmentRepresentative:
		return true
	case actor.RoleBeneficiaryRepresentative:
		return beneficiaryIsMinor
	default:
		// Current employer never blocks; the tutor never signs.
		return false
	}
}

// Renew creates a fresh DRAFT copying the parties of a validated convention.
// Signatures never carry over.
func (s *Service) Renew(ctx context.Context, id string, a actor.Actor, dateStart, dateEnd time.Time, schedule json.RawMessage) (Convention, error) {
	switch a.Role {
	case actor.RoleCounsellor, actor.RoleValidator, actor.RoleBackOffice:
	default:
		return Convention{}, forbiddenf("role %q cannot renew a convention", a.Role)
	}
	if dateEnd.Before(dateStart) {
		return Convention{}, validationf("end date before start date")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	source, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Convention{}, err
	}
	if source.Status != StatusValidated {
		return Convention{}, validationf("only a validated convention can be renewed, got %s", source.Status)
	}

	now := s.now().UTC()
	renewed := source
	renewed.ID = s.idGenerator()
	renewed.Status = StatusDraft
	renewed.DateSubmitted = nil
	renewed.DateValidated = nil
	renewed.DateStart = dateStart
	renewed.DateEnd = dateEnd
	if len(schedule) > 0 {
		renewed.Schedule = schedule
	}
	renewed.StatusJustification = nil
	renewed.RenewedFrom = &source.ID
	renewed.CreatedAt = now
	renewed.UpdatedAt = now
	renewed.Signatories = append([]Signatory(nil), source.Signatories...)
	for i := range renewed.Signatories {
		renewed.Signatories[i].SignedAt = nil
	}

	if err := s.repo.Insert(ctx, tx, renewed); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit renew: %w", err)
	}

	return renewed, nil
}

// Submit moves a draft to READY_TO_SIGN.
func (s *Service) Submit(ctx context.Context, id string, a actor.Actor) (Convention, error) {
	if !roleMayEnter(a.Role, StatusReadyToSign) {
		return Convention{}, forbiddenf("role %q cannot submit a convention", a.Role)
	}
	if err := s.checkSignatoryScope(a, id); err != nil {
		return Convention{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Convention{}, err
	}
	if !c.Status.CanTransitionTo(StatusReadyToSign) {
		return Convention{}, validationf("cannot submit from %s", c.Status)
	}

	now := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, tx, UpdateStatusParams{
		ConventionID:  id,
		Status:        StatusReadyToSign,
		DateSubmitted: &now,
	}); err != nil {
		return Convention{}, err
	}

	event, err := s.events.Create(SubmittedPayload{
		ConventionID: id,
		AgencyID:     c.AgencyID,
		SubmittedAt:  now,
	})
	if err != nil {
		return Convention{}, err
	}
	if err := s.outbox.SaveNewEventsBatch(ctx, tx, []outbox.Event{event}); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit submit: %w", err)
	}

	c.Status = StatusReadyToSign
	c.DateSubmitted = &now
	c.UpdatedAt = now
	return c, nil
}

// Sign records one party's signature. Signing is idempotent per role: a
// second signature is a no-op, not an error. The signature completing the
// required set moves the convention into review.
func (s *Service) Sign(ctx context.Context, id string, role actor.Role, a actor.Actor) (Convention, error) {
	if !role.IsSignatory() || role == actor.RoleEstablishmentTutor {
		return Convention{}, validationf("role %q cannot sign", role)
	}
	if a.Role != role {
		return Convention{}, forbiddenf("actor role %q cannot sign as %q", a.Role, role)
	}
	if err := s.checkSignatoryScope(a, id); err != nil {
		return Convention{}, err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Convention{}, err
	}

	signatory := c.Signatory(role)
	if signatory == nil {
		return Convention{}, validationf("convention has no %s party", role)
	}
	if signatory.SignedAt != nil {
		// Already signed: nothing changes, no event.
		return c, nil
	}
	if !c.Status.IsSignable() {
		return Convention{}, forbiddenf("convention is %s and can no longer be signed", c.Status)
	}

	now := s.now().UTC()
	if err := s.repo.RecordSignature(ctx, tx, id, role, now); err != nil {
		return Convention{}, err
	}
	signatory.SignedAt = &now

	next := StatusPartiallySigned
	var payload outbox.Payload = SignatureRecordedPayload{ConventionID: id, Role: role, SignedAt: now}
	if c.AllRequiredSigned() {
		next = StatusInReview
		payload = FullySignedPayload{ConventionID: id, Role: role, SignedAt: now}
	}

	if err := s.repo.UpdateStatus(ctx, tx, UpdateStatusParams{ConventionID: id, Status: next}); err != nil {
		return Convention{}, err
	}

	event, err := s.events.Create(payload)
	if err != nil {
		return Convention{}, err
	}
	if err := s.outbox.SaveNewEventsBatch(ctx, tx, []outbox.Event{event}); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit sign: %w", err)
	}

	c.Status = next
	c.UpdatedAt = now
	return c, nil
}

// AcceptByCounsellor applies the agency counsellor review, optionally with
// last-chance edits committed atomically with the transition.
func (s *Service) AcceptByCounsellor(ctx context.Context, id string, a actor.Actor, patch *AcceptancePatch) (Convention, error) {
	return s.accept(ctx, id, a, StatusAcceptedByCounsellor, patch)
}

// AcceptByValidator applies the agency validator review.
func (s *Service) AcceptByValidator(ctx context.Context, id string, a actor.Actor, patch *AcceptancePatch) (Convention, error) {
	return s.accept(ctx, id, a, StatusAcceptedByValidator, patch)
}

func (s *Service) accept(ctx context.Context, id string, a actor.Actor, next Status, patch *AcceptancePatch) (Convention, error) {
	if !roleMayEnter(a.Role, next) {
		return Convention{}, forbiddenf("role %q cannot move a convention to %s", a.Role, next)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Convention{}, err
	}
	if a.AgencyID != c.AgencyID {
		return Convention{}, forbiddenf("actor agency does not own this convention")
	}
	if !c.Status.CanTransitionTo(next) {
		return Convention{}, validationf("cannot transition from %s to %s", c.Status, next)
	}

	if patch != nil {
		if patch.DateStart != nil && patch.DateEnd != nil && patch.DateEnd.Before(*patch.DateStart) {
			return Convention{}, validationf("end date before start date")
		}
		if err := s.repo.ApplyAcceptancePatch(ctx, tx, id, *patch); err != nil {
			return Convention{}, err
		}
	}

	if err := s.transition(ctx, tx, &c, next, a, ""); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit accept: %w", err)
	}

	return c, nil
}

// MarkValidated finishes the review chain. This is the only transition that
// schedules partner delivery, in the same transaction.
func (s *Service) MarkValidated(ctx context.Context, id string, a actor.Actor) (Convention, error) {
	if !roleMayEnter(a.Role, StatusValidated) {
		return Convention{}, forbiddenf("role %q cannot validate a convention", a.Role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Convention{}, err
	}
	if a.AgencyID != c.AgencyID {
		return Convention{}, forbiddenf("actor agency does not own this convention")
	}
	if !c.Status.CanTransitionTo(StatusValidated) {
		return Convention{}, validationf("cannot transition from %s to %s", c.Status, StatusValidated)
	}

	now := s.now().UTC()
	if err := s.repo.UpdateStatus(ctx, tx, UpdateStatusParams{
		ConventionID:  id,
		Status:        StatusValidated,
		DateValidated: &now,
	}); err != nil {
		return Convention{}, err
	}

	event, err := s.events.Create(NewStatusChangedPayload(id, c.Status, StatusValidated, a.ID, ""))
	if err != nil {
		return Convention{}, err
	}
	if err := s.outbox.SaveNewEventsBatch(ctx, tx, []outbox.Event{event}); err != nil {
		return Convention{}, err
	}

	if s.broadcast != nil {
		if err := s.broadcast.ScheduleTx(ctx, tx, id); err != nil {
			return Convention{}, fmt.Errorf("convention: schedule partner broadcast: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit validate: %w", err)
	}

	c.Status = StatusValidated
	c.DateValidated = &now
	c.UpdatedAt = now
	return c, nil
}

// RequestModification sends a partially signed convention back to
// READY_TO_SIGN. Signatures already recorded are voided because they were
// given on terms that are about to change.
func (s *Service) RequestModification(ctx context.Context, id string, a actor.Actor, justification string) (Convention, error) {
	if justification == "" {
		return Convention{}, validationf("justification is required to request a modification")
	}
	switch a.Role {
	case actor.RoleCounsellor, actor.RoleValidator, actor.RoleBackOffice:
	default:
		return Convention{}, forbiddenf("role %q cannot request a modification", a.Role)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Convention{}, err
	}
	if c.Status != StatusPartiallySigned {
		return Convention{}, validationf("modification can only be requested on a partially signed convention, got %s", c.Status)
	}

	if err := s.repo.ResetSignatures(ctx, tx, id); err != nil {
		return Convention{}, err
	}
	if err := s.repo.UpdateStatus(ctx, tx, UpdateStatusParams{
		ConventionID:  id,
		Status:        StatusReadyToSign,
		Justification: &justification,
	}); err != nil {
		return Convention{}, err
	}

	event, err := s.events.Create(ModificationRequestPayload{
		ConventionID:  id,
		ActorID:       a.ID,
		Justification: justification,
	})
	if err != nil {
		return Convention{}, err
	}
	if err := s.outbox.SaveNewEventsBatch(ctx, tx, []outbox.Event{event}); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit modification request: %w", err)
	}

	now := s.now().UTC()
	c.Status = StatusReadyToSign
	c.StatusJustification = &justification
	c.UpdatedAt = now
	for i := range c.Signatories {
		c.Signatories[i].SignedAt = nil
	}
	return c, nil
}

// Reject discards an in-progress convention with a justification. Signatures
// already recorded are kept for audit but become void with the status.
func (s *Service) Reject(ctx context.Context, id string, a actor.Actor, justification string) (Convention, error) {
	return s.terminate(ctx, id, a, StatusRejected, justification)
}

// Cancel irreversibly withdraws an accepted or validated convention.
func (s *Service) Cancel(ctx context.Context, id string, a actor.Actor, justification string) (Convention, error) {
	if a.ID == "" {
		return Convention{}, validationf("cancellation requires an identified actor")
	}
	return s.terminate(ctx, id, a, StatusCancelled, justification)
}

func (s *Service) terminate(ctx context.Context, id string, a actor.Actor, next Status, justification string) (Convention, error) {
	if justification == "" {
		return Convention{}, validationf("justification is required for %s", next)
	}
	if !roleMayEnter(a.Role, next) {
		return Convention{}, forbiddenf("role %q cannot move a convention to %s", a.Role, next)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Convention{}, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return Convention{}, err
	}
	if !c.Status.CanTransitionTo(next) {
		return Convention{}, validationf("cannot transition from %s to %s", c.Status, next)
	}

	if err := s.transition(ctx, tx, &c, next, a, justification); err != nil {
		return Convention{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Convention{}, fmt.Errorf("convention: commit %s: %w", next, err)
	}

	return c, nil
}

// transition updates the status row and appends the matching event. The
// caller owns guards and the transaction.
func (s *Service) transition(ctx context.Context, tx pgx.Tx, c *Convention, next Status, a actor.Actor, justification string) error {
	params := UpdateStatusParams{ConventionID: c.ID, Status: next}
	if justification != "" {
		params.Justification = &justification
	}
	if err := s.repo.UpdateStatus(ctx, tx, params); err != nil {
		return err
	}

	event, err := s.events.Create(NewStatusChangedPayload(c.ID, c.Status, next, a.ID, justification))
	if err != nil {
		return err
	}
	if err := s.outbox.SaveNewEventsBatch(ctx, tx, []outbox.Event{event}); err != nil {
		return err
	}

	now := s.now().UTC()
	c.Status = next
	c.UpdatedAt = now
	if justification != "" {
		c.StatusJustification = &justification
	}
	return nil
}

// UpdateDraftDetails applies edits to a DRAFT with optimistic concurrency:
// callers pass the updated-at they read, and get ErrConflict if the draft
// moved on since.
func (s *Service) UpdateDraftDetails(ctx context.Context, id string, a actor.Actor, patch DraftPatch, expectedUpdatedAt time.Time) error {
	switch a.Role {
	case actor.RoleBeneficiary:
		if err := s.checkSignatoryScope(a, id); err != nil {
			return err
		}
	case actor.RoleCounsellor, actor.RoleBackOffice:
	default:
		return forbiddenf("role %q cannot edit a draft", a.Role)
	}
	if patch.Siret != nil && len(*patch.Siret) != 14 {
		return validationf("siret must be 14 characters")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, id)
	if err != nil {
		return err
	}
	if c.Status != StatusDraft {
		return validationf("only a draft can be edited, got %s", c.Status)
	}

	if err := s.repo.UpdateDraft(ctx, tx, id, patch, expectedUpdatedAt); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("convention: commit draft edit: %w", err)
	}

	return nil
}

// DeprecateEnded sweeps validated conventions whose observation period ended
// without an assessment, in bounded batches.
func (s *Service) DeprecateEnded(ctx context.Context, endedBefore time.Time, limit int) (int, error) {
	if limit <= 0 {
		return 0, validationf("limit must be positive")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("convention: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	expired, err := s.repo.ListValidatedEndedBefore(ctx, tx, endedBefore, limit)
	if err != nil {
		return 0, err
	}

	events := make([]outbox.Event, 0, len(expired))
	for i := range expired {
		c := &expired[i]
		if err := s.repo.UpdateStatus(ctx, tx, UpdateStatusParams{ConventionID: c.ID, Status: StatusDeprecated}); err != nil {
			return 0, err
		}
		event, err := s.events.Create(NewStatusChangedPayload(c.ID, c.Status, StatusDeprecated, "", ""))
		if err != nil {
			return 0, err
		}
		events = append(events, event)
	}

	if err := s.outbox.SaveNewEventsBatch(ctx, tx, events); err != nil {
		return 0, err
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("convention: commit deprecation sweep: %w", err)
	}

	return len(expired), nil
}

// Get loads one convention outside any transaction.
func (s *Service) Get(ctx context.Context, id string) (Convention, error) {
	return s.repo.Get(ctx, id)
}

// checkSignatoryScope confines signatory tokens to the convention their
// magic link was issued for. Agency and back-office roles are scoped by
// agency instead.
func (s *Service) checkSignatoryScope(a actor.Actor, conventionID string) error {
	if !a.Role.IsSignatory() {
		return nil
	}
	if a.ConventionID != conventionID {
		return forbiddenf("token grants access to another convention")
	}
	return nil
}
