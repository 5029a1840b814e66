package service

import (
	"context"
	"log/slog"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
	"github.com/prayermap/admin-console/internal/ports"
)

// RoleSource resolves the dashboard role held by a subject.
type RoleSource interface {
	Resolve(ctx context.Context, subjectID string) (domainauth.Role, bool)
}

// RoleResolverOptions groups dependencies for RoleResolver.
type RoleResolverOptions struct {
	Checker ports.AuthorizationChecker
	Logger  *slog.Logger
}

// RoleResolver asks the authorization service whether a subject is an admin
// or moderator. It fails closed: transport errors, empty answers and unknown
// roles all mean "not authorized", and none of them are returned to callers.
type RoleResolver struct {
	checker ports.AuthorizationChecker
	logger  *slog.Logger
}

// NewRoleResolver constructs a new RoleResolver.
func NewRoleResolver(opts RoleResolverOptions) *RoleResolver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &RoleResolver{
		checker: opts.Checker,
		logger:  logger.With("component", "role_resolver"),
	}
}

// Resolve returns the subject's role and true, or "" and false when the
// subject is not authorized or the check could not be completed.
func (r *RoleResolver) Resolve(ctx context.Context, subjectID string) (domainauth.Role, bool) {
	if subjectID == "" || r.checker == nil {
		return "", false
	}

	role, err := r.checker.CheckAuthorization(ctx, subjectID)
	if err != nil {
		r.logger.WarnContext(ctx, "authorization check failed", "subject", subjectID, "error", err)
		return "", false
	}
	if role == "" {
		return "", false
	}
	if !role.Valid() {
		r.logger.WarnContext(ctx, "authorization check returned unknown role", "subject", subjectID, "role", role)
		return "", false
	}

	return role, true
}
