package convention

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"immersion/actor"
	"immersion/outbox"
)

var testTime = time.Date(2024, 5, 13, 9, 30, 0, 0, time.UTC)

func newTestService(repo *stubRepo, events *stubOutbox) (*Service, *fakePool) {
	pool := &fakePool{}
	var seq int
	svc := NewService(pool, repo, events, nil).
		WithClock(func() time.Time { return testTime }).
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		})
	return svc, pool
}

func validCreateParams() CreateParams {
	phone := "+33600000000"
	return CreateParams{
		AgencyID:  "agency-1",
		Siret:     "13002526500013",
		DateStart: time.Date(2024, 6, 3, 0, 0, 0, 0, time.UTC),
		DateEnd:   time.Date(2024, 6, 21, 0, 0, 0, 0, time.UTC),
		Signatories: []SignatoryParams{
			{Role: actor.RoleBeneficiary, FirstName: "Nora", LastName: "Benali", Email: "nora@example.com", Phone: &phone},
			{Role: actor.RoleEstablishmentRepresentative, FirstName: "Paul", LastName: "Girard", Email: "paul@example.com"},
			{Role: actor.RoleEstablishmentTutor, FirstName: "Ines", LastName: "Robert", Email: "ines@example.com"},
		},
	}
}

func storedConvention(status Status) Convention {
	return Convention{
		ID:       "conv-1",
		Status:   status,
		AgencyID: "agency-1",
		Siret:    "13002526500013",
		Signatories: []Signatory{
			{Role: actor.RoleBeneficiary, Required: true, FirstName: "Nora", LastName: "Benali", Email: "nora@example.com"},
			{Role: actor.RoleEstablishmentRepresentative, Required: true, FirstName: "Paul", LastName: "Girard", Email: "paul@example.com"},
			{Role: actor.RoleEstablishmentTutor, FirstName: "Ines", LastName: "Robert", Email: "ines@example.com"},
		},
	}
}

func signatoryActor(role actor.Role, conventionID string) actor.Actor {
	return actor.Actor{ID: "actor-" + string(role), Role: role, ConventionID: conventionID}
}

func agencyActor(role actor.Role) actor.Actor {
	return actor.Actor{ID: "actor-" + string(role), Role: role, AgencyID: "agency-1"}
}

func TestCreate_BuildsDraftWithRequiredFlags(t *testing.T) {
	repo := newStubRepo()
	events := &stubOutbox{}
	svc, pool := newTestService(repo, events)

	params := validCreateParams()
	params.BeneficiaryIsMinor = true
	params.Signatories = append(params.Signatories, SignatoryParams{
		Role: actor.RoleBeneficiaryRepresentative, FirstName: "Karim", LastName: "Benali", Email: "karim@example.com",
	})

	c, err := svc.Create(context.Background(), params)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Status != StatusDraft {
		t.Errorf("expected DRAFT, got %s", c.Status)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	if len(events.saved) != 0 {
		t.Errorf("creation must not emit events, got %d", len(events.saved))
	}

	rep := c.Signatory(actor.RoleBeneficiaryRepresentative)
	if rep == nil || !rep.Required {
		t.Errorf("representative of a minor must be required")
	}
	tutor := c.Signatory(actor.RoleEstablishmentTutor)
	if tutor == nil || tutor.Required {
		t.Errorf("tutor must never be a required signatory")
	}
}

func TestCreate_MinorWithoutRepresentative(t *testing.T) {
	repo := newStubRepo()
	svc, _ := newTestService(repo, &stubOutbox{})

	params := validCreateParams()
	params.BeneficiaryIsMinor = true

	_, err := svc.Create(context.Background(), params)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if len(repo.inserted) != 0 {
		t.Errorf("expected no insert")
	}
}

func TestCreate_RejectsBadSiret(t *testing.T) {
	svc, _ := newTestService(newStubRepo(), &stubOutbox{})

	params := validCreateParams()
	params.Siret = "123"

	if _, err := svc.Create(context.Background(), params); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSubmit_EmitsSubmittedEvent(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusDraft))
	events := &stubOutbox{}
	svc, pool := newTestService(repo, events)

	c, err := svc.Submit(context.Background(), "conv-1", signatoryActor(actor.RoleBeneficiary, "conv-1"))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Status != StatusReadyToSign {
		t.Errorf("expected READY_TO_SIGN, got %s", c.Status)
	}
	if c.DateSubmitted == nil || !c.DateSubmitted.Equal(testTime) {
		t.Errorf("expected date submitted %v, got %v", testTime, c.DateSubmitted)
	}
	if !pool.tx.committed {
		t.Errorf("expected commit")
	}
	if got := events.topics(); len(got) != 1 || got[0] != TopicSubmitted {
		t.Errorf("expected one %s event, got %v", TopicSubmitted, got)
	}
}

func TestSubmit_WrongStateMutatesNothing(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusInReview))
	events := &stubOutbox{}
	svc, pool := newTestService(repo, events)

	_, err := svc.Submit(context.Background(), "conv-1", signatoryActor(actor.RoleBeneficiary, "conv-1"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback only")
	}
	if len(repo.statusUpdates) != 0 || len(events.saved) != 0 {
		t.Errorf("rejected transition must not mutate state")
	}
}

func TestSubmit_SignatoryTokenScopedToConvention(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusDraft))
	svc, _ := newTestService(repo, &stubOutbox{})

	_, err := svc.Submit(context.Background(), "conv-1", signatoryActor(actor.RoleBeneficiary, "conv-OTHER"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSign_PartialThenFull(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusReadyToSign))
	events := &stubOutbox{}
	svc, _ := newTestService(repo, events)

	c, err := svc.Sign(context.Background(), "conv-1", actor.RoleBeneficiary, signatoryActor(actor.RoleBeneficiary, "conv-1"))
	if err != nil {
		t.Fatalf("first signature: %v", err)
	}
	if c.Status != StatusPartiallySigned {
		t.Errorf("expected PARTIALLY_SIGNED after first signature, got %s", c.Status)
	}

	c, err = svc.Sign(context.Background(), "conv-1", actor.RoleEstablishmentRepresentative, signatoryActor(actor.RoleEstablishmentRepresentative, "conv-1"))
	if err != nil {
		t.Fatalf("second signature: %v", err)
	}
	if c.Status != StatusInReview {
		t.Errorf("expected IN_REVIEW once the required set is complete, got %s", c.Status)
	}

	want := []string{TopicSignatureRecorded, TopicFullySigned}
	got := events.topics()
	if len(got) != len(want) {
		t.Fatalf("expected topics %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("expected topics %v, got %v", want, got)
		}
	}
}

func TestSign_SecondSignatureIsNoOp(t *testing.T) {
	stored := storedConvention(StatusPartiallySigned)
	signed := testTime.Add(-time.Hour)
	stored.Signatories[0].SignedAt = &signed

	repo := newStubRepo(stored)
	events := &stubOutbox{}
	svc, pool := newTestService(repo, events)

	c, err := svc.Sign(context.Background(), "conv-1", actor.RoleBeneficiary, signatoryActor(actor.RoleBeneficiary, "conv-1"))
	if err != nil {
		t.Fatalf("expected nil error on idempotent re-sign, got %v", err)
	}
	if c.Status != StatusPartiallySigned {
		t.Errorf("status must not change, got %s", c.Status)
	}
	if got := c.Signatory(actor.RoleBeneficiary).SignedAt; !got.Equal(signed) {
		t.Errorf("original signature timestamp must be kept, got %v", got)
	}
	if pool.tx.committed {
		t.Errorf("no-op must not commit")
	}
	if len(events.saved) != 0 {
		t.Errorf("no-op must not emit events")
	}
}

func TestSign_TutorCannotSign(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusReadyToSign))
	svc, _ := newTestService(repo, &stubOutbox{})

	_, err := svc.Sign(context.Background(), "conv-1", actor.RoleEstablishmentTutor, signatoryActor(actor.RoleEstablishmentTutor, "conv-1"))
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestSign_RejectedAfterReviewStarts(t *testing.T) {
	stored := storedConvention(StatusInReview)
	repo := newStubRepo(stored)
	svc, _ := newTestService(repo, &stubOutbox{})

	_, err := svc.Sign(context.Background(), "conv-1", actor.RoleBeneficiary, signatoryActor(actor.RoleBeneficiary, "conv-1"))
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAcceptByCounsellor_AgencyMismatch(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusInReview))
	svc, _ := newTestService(repo, &stubOutbox{})

	a := agencyActor(actor.RoleCounsellor)
	a.AgencyID = "agency-OTHER"

	_, err := svc.AcceptByCounsellor(context.Background(), "conv-1", a, nil)
	if !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestAcceptByCounsellor_AppliesPatchAtomically(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusInReview))
	events := &stubOutbox{}
	svc, _ := newTestService(repo, events)

	newEnd := time.Date(2024, 6, 28, 0, 0, 0, 0, time.UTC)
	c, err := svc.AcceptByCounsellor(context.Background(), "conv-1", agencyActor(actor.RoleCounsellor), &AcceptancePatch{DateEnd: &newEnd})
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Status != StatusAcceptedByCounsellor {
		t.Errorf("expected ACCEPTED_BY_COUNSELLOR, got %s", c.Status)
	}
	if len(repo.patches) != 1 {
		t.Fatalf("expected the patch to be applied, got %d", len(repo.patches))
	}
	if got := events.topics(); len(got) != 1 || got[0] != TopicAcceptedByCounsellor {
		t.Errorf("expected one %s event, got %v", TopicAcceptedByCounsellor, got)
	}
}

func TestAcceptByValidator_RequiresCounsellorFirst(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusInReview))
	svc, _ := newTestService(repo, &stubOutbox{})

	_, err := svc.AcceptByValidator(context.Background(), "conv-1", agencyActor(actor.RoleValidator), nil)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestMarkValidated_SchedulesBroadcastInTx(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusAcceptedByValidator))
	events := &stubOutbox{}
	broadcast := &stubBroadcast{}
	pool := &fakePool{}
	svc := NewService(pool, repo, events, broadcast).WithClock(func() time.Time { return testTime })

	c, err := svc.MarkValidated(context.Background(), "conv-1", agencyActor(actor.RoleValidator))
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Status != StatusValidated {
		t.Errorf("expected VALIDATED, got %s", c.Status)
	}
	if c.DateValidated == nil || !c.DateValidated.Equal(testTime) {
		t.Errorf("expected validation date %v, got %v", testTime, c.DateValidated)
	}
	if len(broadcast.scheduled) != 1 || broadcast.scheduled[0] != "conv-1" {
		t.Errorf("expected conv-1 scheduled for broadcast, got %v", broadcast.scheduled)
	}
	if broadcast.tx != pool.tx {
		t.Errorf("broadcast must be scheduled inside the use case transaction")
	}
	if got := events.topics(); len(got) != 1 || got[0] != TopicValidated {
		t.Errorf("expected one %s event, got %v", TopicValidated, got)
	}
}

func TestMarkValidated_BroadcastFailureAbortsEverything(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusAcceptedByValidator))
	events := &stubOutbox{}
	broadcast := &stubBroadcast{err: errors.New("ledger down")}
	pool := &fakePool{}
	svc := NewService(pool, repo, events, broadcast)

	if _, err := svc.MarkValidated(context.Background(), "conv-1", agencyActor(actor.RoleValidator)); err == nil {
		t.Fatalf("expected error")
	}
	if pool.tx.committed {
		t.Errorf("expected rollback when scheduling fails")
	}
}

func TestReject_RequiresJustification(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusInReview))
	svc, _ := newTestService(repo, &stubOutbox{})

	_, err := svc.Reject(context.Background(), "conv-1", agencyActor(actor.RoleCounsellor), "")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestReject_KeepsSignaturesForAudit(t *testing.T) {
	stored := storedConvention(StatusPartiallySigned)
	signed := testTime.Add(-time.Hour)
	stored.Signatories[0].SignedAt = &signed

	repo := newStubRepo(stored)
	events := &stubOutbox{}
	svc, _ := newTestService(repo, events)

	c, err := svc.Reject(context.Background(), "conv-1", agencyActor(actor.RoleCounsellor), "dates no longer possible")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Status != StatusRejected {
		t.Errorf("expected REJECTED, got %s", c.Status)
	}
	if repo.resetCalls != 0 {
		t.Errorf("rejection must not erase signatures")
	}
	if got := events.topics(); len(got) != 1 || got[0] != TopicRejected {
		t.Errorf("expected one %s event, got %v", TopicRejected, got)
	}
}

func TestCancel_OnlyFromAcceptedOrValidated(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusInReview))
	svc, _ := newTestService(repo, &stubOutbox{})

	_, err := svc.Cancel(context.Background(), "conv-1", agencyActor(actor.RoleValidator), "beneficiary withdrew")
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
}

func TestRequestModification_ResetsSignatures(t *testing.T) {
	stored := storedConvention(StatusPartiallySigned)
	signed := testTime.Add(-time.Hour)
	stored.Signatories[0].SignedAt = &signed

	repo := newStubRepo(stored)
	events := &stubOutbox{}
	svc, _ := newTestService(repo, events)

	c, err := svc.RequestModification(context.Background(), "conv-1", agencyActor(actor.RoleCounsellor), "tutor changed")
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Status != StatusReadyToSign {
		t.Errorf("expected READY_TO_SIGN, got %s", c.Status)
	}
	if repo.resetCalls != 1 {
		t.Errorf("expected signatures to be reset once, got %d", repo.resetCalls)
	}
	if got := c.Signatory(actor.RoleBeneficiary).SignedAt; got != nil {
		t.Errorf("expected voided signature, got %v", got)
	}
	if got := events.topics(); len(got) != 1 || got[0] != TopicModificationRequest {
		t.Errorf("expected one %s event, got %v", TopicModificationRequest, got)
	}
}

func TestUpdateDraftDetails_ConflictPassthrough(t *testing.T) {
	repo := newStubRepo(storedConvention(StatusDraft))
	repo.updateDraftErr = ErrConflict
	svc, pool := newTestService(repo, &stubOutbox{})

	siret := "13002526500021"
	err := svc.UpdateDraftDetails(context.Background(), "conv-1", agencyActor(actor.RoleCounsellor), DraftPatch{Siret: &siret}, testTime)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if pool.tx.committed {
		t.Errorf("expected rollback on conflict")
	}
}

func TestDeprecateEnded_BatchEmitsOneEventEach(t *testing.T) {
	first := storedConvention(StatusValidated)
	second := storedConvention(StatusValidated)
	second.ID = "conv-2"

	repo := newStubRepo(first, second)
	repo.endedBefore = []string{"conv-1", "conv-2"}
	events := &stubOutbox{}
	svc, _ := newTestService(repo, events)

	n, err := svc.DeprecateEnded(context.Background(), testTime, 10)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 deprecated, got %d", n)
	}
	got := events.topics()
	if len(got) != 2 || got[0] != TopicDeprecated || got[1] != TopicDeprecated {
		t.Errorf("expected two %s events, got %v", TopicDeprecated, got)
	}
}

func TestRenew_CopiesPartiesNotSignatures(t *testing.T) {
	stored := storedConvention(StatusValidated)
	signed := testTime.Add(-30 * 24 * time.Hour)
	for i := range stored.Signatories {
		stored.Signatories[i].SignedAt = &signed
	}

	repo := newStubRepo(stored)
	svc, _ := newTestService(repo, &stubOutbox{})

	start := time.Date(2024, 9, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2024, 9, 20, 0, 0, 0, 0, time.UTC)
	c, err := svc.Renew(context.Background(), "conv-1", agencyActor(actor.RoleCounsellor), start, end, nil)
	if err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if c.Status != StatusDraft {
		t.Errorf("renewal starts over as DRAFT, got %s", c.Status)
	}
	if c.RenewedFrom == nil || *c.RenewedFrom != "conv-1" {
		t.Errorf("expected renewal link to conv-1, got %v", c.RenewedFrom)
	}
	if len(c.Signatories) != len(stored.Signatories) {
		t.Fatalf("expected parties to carry over")
	}
	for _, s := range c.Signatories {
		if s.SignedAt != nil {
			t.Errorf("signatures must never carry over, %s is signed", s.Role)
		}
	}
}

type recordedSignature struct {
	role     actor.Role
	signedAt time.Time
}

type stubRepo struct {
	conventions    map[string]Convention
	inserted       []Convention
	statusUpdates  []UpdateStatusParams
	signatures     []recordedSignature
	patches        []AcceptancePatch
	resetCalls     int
	updateDraftErr error
	// endedBefore lists the convention ids ListValidatedEndedBefore returns.
	endedBefore []string
}

func newStubRepo(conventions ...Convention) *stubRepo {
	r := &stubRepo{conventions: map[string]Convention{}}
	for _, c := range conventions {
		r.conventions[c.ID] = c
	}
	return r
}

func (r *stubRepo) Insert(ctx context.Context, tx pgx.Tx, c Convention) error {
	r.inserted = append(r.inserted, c)
	r.conventions[c.ID] = c
	return nil
}

func (r *stubRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id string) (Convention, error) {
	return r.get(id)
}

func (r *stubRepo) Get(ctx context.Context, id string) (Convention, error) {
	return r.get(id)
}

func (r *stubRepo) get(id string) (Convention, error) {
	c, ok := r.conventions[id]
	if !ok {
		return Convention{}, ErrNotFound
	}
	c.Signatories = append([]Signatory(nil), c.Signatories...)
	return c, nil
}

func (r *stubRepo) UpdateStatus(ctx context.Context, tx pgx.Tx, params UpdateStatusParams) error {
	r.statusUpdates = append(r.statusUpdates, params)
	c := r.conventions[params.ConventionID]
	c.Status = params.Status
	if params.DateSubmitted != nil {
		c.DateSubmitted = params.DateSubmitted
	}
	if params.DateValidated != nil {
		c.DateValidated = params.DateValidated
	}
	if params.Justification != nil {
		c.StatusJustification = params.Justification
	}
	r.conventions[params.ConventionID] = c
	return nil
}

func (r *stubRepo) RecordSignature(ctx context.Context, tx pgx.Tx, id string, role actor.Role, signedAt time.Time) error {
	r.signatures = append(r.signatures, recordedSignature{role: role, signedAt: signedAt})
	c := r.conventions[id]
	c.Signatories = append([]Signatory(nil), c.Signatories...)
	for i := range c.Signatories {
		if c.Signatories[i].Role == role && c.Signatories[i].SignedAt == nil {
			at := signedAt
			c.Signatories[i].SignedAt = &at
		}
	}
	r.conventions[id] = c
	return nil
}

func (r *stubRepo) ResetSignatures(ctx context.Context, tx pgx.Tx, id string) error {
	r.resetCalls++
	c := r.conventions[id]
	c.Signatories = append([]Signatory(nil), c.Signatories...)
	for i := range c.Signatories {
		c.Signatories[i].SignedAt = nil
	}
	r.conventions[id] = c
	return nil
}

func (r *stubRepo) ApplyAcceptancePatch(ctx context.Context, tx pgx.Tx, id string, patch AcceptancePatch) error {
	r.patches = append(r.patches, patch)
	return nil
}

func (r *stubRepo) UpdateDraft(ctx context.Context, tx pgx.Tx, id string, patch DraftPatch, expectedUpdatedAt time.Time) error {
	return r.updateDraftErr
}

func (r *stubRepo) ListValidatedEndingOn(ctx context.Context, day time.Time) ([]Convention, error) {
	return nil, nil
}

func (r *stubRepo) ListValidatedEndedBefore(ctx context.Context, tx pgx.Tx, before time.Time, limit int) ([]Convention, error) {
	var out []Convention
	for _, id := range r.endedBefore {
		if len(out) == limit {
			break
		}
		c, err := r.get(id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

type stubOutbox struct {
	saved []outbox.Event
}

func (s *stubOutbox) SaveNewEventsBatch(ctx context.Context, tx pgx.Tx, events []outbox.Event) error {
	s.saved = append(s.saved, events...)
	return nil
}

func (s *stubOutbox) topics() []string {
	out := make([]string, len(s.saved))
	for i, e := range s.saved {
		out[i] = e.Topic
	}
	return out
}

func (s *stubOutbox) ListUnpublished(context.Context, int) ([]outbox.Event, error) {
	panic("not implemented")
}

func (s *stubOutbox) RecordPublication(context.Context, string, outbox.Publication, bool) error {
	panic("not implemented")
}

func (s *stubOutbox) ListQuarantined(context.Context, int) ([]outbox.Event, error) {
	panic("not implemented")
}

func (s *stubOutbox) RequeueQuarantined(context.Context, string) error {
	panic("not implemented")
}

func (s *stubOutbox) HasEventForConvention(context.Context, string, string) (bool, error) {
	panic("not implemented")
}

func (s *stubOutbox) DeleteOldPublished(context.Context, time.Time, int) (int, error) {
	panic("not implemented")
}

type stubBroadcast struct {
	scheduled []string
	tx        pgx.Tx
	err       error
}

func (b *stubBroadcast) ScheduleTx(ctx context.Context, tx pgx.Tx, conventionID string) error {
	if b.err != nil {
		return b.err
	}
	b.scheduled = append(b.scheduled, conventionID)
	b.tx = tx
	return nil
}

type fakePool struct {
	tx *fakeTx
}

func (f *fakePool) Begin(ctx context.Context) (pgx.Tx, error) {
	f.tx = &fakeTx{}
	return f.tx, nil
}

type fakeTx struct {
	rolled    bool
	committed bool
}

func (f *fakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakeTx does not support nested transactions")
}

func (f *fakeTx) Commit(context.Context) error {
	f.committed = true
	return nil
}

func (f *fakeTx) Rollback(context.Context) error {
	f.rolled = true
	return nil
}

func (f *fakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *fakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *fakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *fakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *fakeTx) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	panic("not implemented")
}

func (f *fakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *fakeTx) QueryRow(context.Context, string, ...any) pgx.Row {
	panic("not implemented")
}

func (f *fakeTx) Conn() *pgx.Conn {
	return nil
}
