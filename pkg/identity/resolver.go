package identity

import (
	"context"
	"errors"
	"net/mail"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/platinummonkey/parish-registry/pkg/observability"
	"github.com/platinummonkey/parish-registry/pkg/storage"
)

var (
	// ErrIdentityUnresolved means no strategy mapped the token to a user.
	// Authorization treats it exactly like a denial.
	ErrIdentityUnresolved = errors.New("identity unresolved")

	// ErrMalformedToken is returned for unparseable bearer tokens
	ErrMalformedToken = errors.New("malformed bearer token")

	// ErrTokenExpired is returned for tokens past their exp claim
	ErrTokenExpired = errors.New("token expired")
)

// UserDirectory looks users up by their external identifiers. Implementations
// return (0, false, nil) when no user matches and a non-nil error only for
// infrastructure failures.
type UserDirectory interface {
	FindByEmail(ctx context.Context, email string) (int64, bool, error)
	FindByExternalID(ctx context.Context, externalID uuid.UUID) (int64, bool, error)
}

// Strategy tries to map a token to a user id. matched=false hands over to the
// next strategy; an error aborts resolution.
type Strategy struct {
	Name    string
	Resolve func(ctx context.Context, tok *Token, dir UserDirectory) (userID int64, matched bool, err error)
}

// SubjectAsID accepts a subject that is a positive integer
var SubjectAsID = Strategy{
	Name: "subject_id",
	Resolve: func(_ context.Context, tok *Token, _ UserDirectory) (int64, bool, error) {
		id, err := strconv.ParseInt(tok.Subject, 10, 64)
		if err != nil || id <= 0 {
			return 0, false, nil
		}
		return id, true, nil
	},
}

// SubjectAsUUID looks up a subject that is a UUID by external id
var SubjectAsUUID = Strategy{
	Name: "subject_uuid",
	Resolve: func(ctx context.Context, tok *Token, dir UserDirectory) (int64, bool, error) {
		externalID, err := uuid.Parse(tok.Subject)
		if err != nil {
			return 0, false, nil
		}
		return dir.FindByExternalID(ctx, externalID)
	},
}

// SubjectAsEmail looks up a subject that is an email address
var SubjectAsEmail = Strategy{
	Name: "subject_email",
	Resolve: func(ctx context.Context, tok *Token, dir UserDirectory) (int64, bool, error) {
		email, ok := NormalizeEmail(tok.Subject)
		if !ok {
			return 0, false, nil
		}
		return dir.FindByEmail(ctx, email)
	},
}

// EmailClaim looks up the email claim
var EmailClaim = Strategy{
	Name: "email_claim",
	Resolve: func(ctx context.Context, tok *Token, dir UserDirectory) (int64, bool, error) {
		email, ok := NormalizeEmail(tok.Email)
		if !ok {
			return 0, false, nil
		}
		return dir.FindByEmail(ctx, email)
	},
}

// DefaultStrategies is the resolution order: internal id, UUID, email subject,
// email claim.
func DefaultStrategies() []Strategy {
	return []Strategy{SubjectAsID, SubjectAsUUID, SubjectAsEmail, EmailClaim}
}

// NormalizeEmail returns the lower-cased bare address when s is a single valid
// email address.
func NormalizeEmail(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !strings.Contains(s, "@") {
		return "", false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}

// Resolver maps tokens to internal user ids with an ordered strategy list
type Resolver struct {
	directory  UserDirectory
	strategies []Strategy
	logger     *observability.Logger
}

// NewResolver creates a resolver. With no strategies, DefaultStrategies is used.
func NewResolver(directory UserDirectory, logger *observability.Logger, strategies ...Strategy) *Resolver {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	return &Resolver{
		directory:  directory,
		strategies: strategies,
		logger:     observability.OrNop(logger),
	}
}

// Resolve returns the user id for tok. It returns ErrIdentityUnresolved when no
// strategy matched and a storage.ErrUnavailable error when the directory
// failed.
func (r *Resolver) Resolve(ctx context.Context, tok *Token) (int64, error) {
	if tok == nil || tok.Subject == "" {
		return 0, ErrIdentityUnresolved
	}

	for _, s := range r.strategies {
		id, matched, err := s.Resolve(ctx, tok, r.directory)
		if err != nil {
			return 0, storage.Unavailable("resolve identity via "+s.Name, err)
		}
		if matched {
			return id, nil
		}
	}

	r.logger.WithField("subject", tok.Subject).Debug("identity unresolved")
	return 0, ErrIdentityUnresolved
}
