package actor

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Role identifies what an acting party is allowed to do on a convention.
type Role string

const (
	RoleBeneficiary               Role = "beneficiary"
	RoleBeneficiaryRepresentative Role = "beneficiary-representative"
	RoleBeneficiaryCurrentEmployer Role = "beneficiary-current-employer"
	RoleEstablishmentRepresentative Role = "establishment-representative"
	RoleEstablishmentTutor        Role = "establishment-tutor"
	RoleCounsellor                Role = "counsellor"
	RoleValidator                 Role = "validator"
	RoleBackOffice                Role = "back-office"
)

var (
	// ErrInvalidToken signals a token that failed signature or claim checks.
	ErrInvalidToken = errors.New("actor: invalid token")
	// ErrExpiredToken signals a token past its expiry.
	ErrExpiredToken = errors.New("actor: expired token")
)

// Actor is the resolved identity behind a convention operation. Signatory
// roles are scoped to a single convention through the magic link that carried
// the token; agency roles are scoped to an agency instead.
type Actor struct {
	ID           string
	Role         Role
	AgencyID     string
	ConventionID string
}

// IsSignatory reports whether the role belongs to a convention party rather
// than an agency user.
func (r Role) IsSignatory() bool {
	switch r {
	case RoleBeneficiary, RoleBeneficiaryRepresentative, RoleBeneficiaryCurrentEmployer,
		RoleEstablishmentRepresentative, RoleEstablishmentTutor:
		return true
	default:
		return false
	}
}

func isValidRole(role Role) bool {
	switch role {
	case RoleBeneficiary, RoleBeneficiaryRepresentative, RoleBeneficiaryCurrentEmployer,
		RoleEstablishmentRepresentative, RoleEstablishmentTutor,
		RoleCounsellor, RoleValidator, RoleBackOffice:
		return true
	default:
		return false
	}
}

// Tokens issues and verifies the signed links through which parties reach a
// convention. Session management stays outside this package; a token is the
// whole credential.
type Tokens struct {
	secret []byte
	now    func() time.Time
	ttl    time.Duration
}

func NewTokens(secret string, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &Tokens{
		secret: []byte(secret),
		now:    time.Now,
		ttl:    ttl,
	}
}

// WithClock overrides the time source, used by tests.
func (t *Tokens) WithClock(now func() time.Time) *Tokens {
	t.now = now
	return t
}

// Issue creates a signed token for the given actor.
func (t *Tokens) Issue(a Actor) (string, error) {
	if a.ID == "" {
		return "", fmt.Errorf("actor: missing actor id")
	}
	if !isValidRole(a.Role) {
		return "", fmt.Errorf("actor: invalid role %q", a.Role)
	}
	if a.Role.IsSignatory() && a.ConventionID == "" {
		return "", fmt.Errorf("actor: signatory token requires a convention id")
	}

	now := t.now()
	claims := jwt.MapClaims{
		"sub":  a.ID,
		"role": string(a.Role),
		"exp":  now.Add(t.ttl).Unix(),
		"iat":  now.Unix(),
	}
	if a.AgencyID != "" {
		claims["agency_id"] = a.AgencyID
	}
	if a.ConventionID != "" {
		claims["convention_id"] = a.ConventionID
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("actor: sign token: %w", err)
	}

	return signed, nil
}

// Verify validates a token and returns the actor it carries.
func (t *Tokens) Verify(tokenString string) (Actor, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Actor{}, ErrExpiredToken
		}
		return Actor{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Actor{}, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Actor{}, fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	roleStr, ok := claims["role"].(string)
	if !ok {
		return Actor{}, fmt.Errorf("%w: missing role", ErrInvalidToken)
	}
	role := Role(roleStr)
	if !isValidRole(role) {
		return Actor{}, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, roleStr)
	}

	a := Actor{ID: sub, Role: role}
	if agencyID, ok := claims["agency_id"].(string); ok {
		a.AgencyID = agencyID
	}
	if conventionID, ok := claims["convention_id"].(string); ok {
		a.ConventionID = conventionID
	}

	if role.IsSignatory() && a.ConventionID == "" {
		return Actor{}, fmt.Errorf("%w: signatory token without convention", ErrInvalidToken)
	}

	return a, nil
}
