package postgres

// Package postgres provides the Postgres-backed authorization checker.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
)

// DefaultFunction is the role lookup function called when none is configured.
const DefaultFunction = "check_admin_status"

var (
	// ErrCheckUnavailable is returned when the role function does not exist.
	ErrCheckUnavailable = errors.New("authorization function unavailable")
	// ErrCheckForbidden is returned when the database role may not call the function.
	ErrCheckForbidden = errors.New("authorization function not permitted")
	// ErrInvalidSubject is returned when the function rejects the subject id.
	ErrInvalidSubject = errors.New("invalid subject id")
	// ErrUnknownRole is returned when the function yields a role outside the enum.
	ErrUnknownRole = errors.New("unknown role")
)

var funcNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// AuthorizationCheckerOptions groups dependencies for AuthorizationChecker.
type AuthorizationCheckerOptions struct {
	DB       *sql.DB
	Function string // optional; defaults to DefaultFunction
}

// AuthorizationChecker implements ports.AuthorizationChecker by calling a
// SQL function that maps a user id to a nullable role name.
type AuthorizationChecker struct {
	db    *sql.DB
	query string
}

// NewAuthorizationChecker constructs an AuthorizationChecker.
func NewAuthorizationChecker(opts AuthorizationCheckerOptions) (*AuthorizationChecker, error) {
	if opts.DB == nil {
		return nil, errors.New("postgres checker: db is required")
	}
	fn := strings.TrimSpace(opts.Function)
	if fn == "" {
		fn = DefaultFunction
	}
	// The name is interpolated into SQL, so only plain identifiers are accepted.
	if !funcNameRe.MatchString(fn) {
		return nil, fmt.Errorf("postgres checker: invalid function name %q", fn)
	}
	return &AuthorizationChecker{
		db:    opts.DB,
		query: "SELECT " + fn + "($1)",
	}, nil
}

// CheckAuthorization returns the subject's role, or "" when the subject has none.
func (c *AuthorizationChecker) CheckAuthorization(ctx context.Context, subjectID string) (domainauth.Role, error) {
	var role sql.NullString
	if err := c.db.QueryRowContext(ctx, c.query, subjectID).Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", classify(err)
	}
	if !role.Valid || role.String == "" {
		return "", nil
	}

	r := domainauth.Role(strings.ToLower(strings.TrimSpace(role.String)))
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, role.String)
	}
	return r, nil
}

func classify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return fmt.Errorf("check authorization: %w", err)
	}
	switch pgErr.Code {
	case pgerrcode.UndefinedFunction:
		return fmt.Errorf("%w: %w", ErrCheckUnavailable, err)
	case pgerrcode.InsufficientPrivilege:
		return fmt.Errorf("%w: %w", ErrCheckForbidden, err)
	case pgerrcode.InvalidTextRepresentation:
		return fmt.Errorf("%w: %w", ErrInvalidSubject, err)
	default:
		return fmt.Errorf("check authorization: %w", err)
	}
}
