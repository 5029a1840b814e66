// Package mocks provides mock implementations for testing the admin console.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// Hand-written fakes for the auth client and session store live in internal/mocks/auth.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	checker := mocks.NewMockAuthorizationChecker(ctrl)
//	checker.EXPECT().CheckAuthorization(gomock.Any(), "u1").Return(domainauth.RoleAdmin, nil)
package mocks

// Generate mock for AuthorizationChecker interface from internal/ports package.
// This creates MockAuthorizationChecker with methods for all AuthorizationChecker interface methods:
// CheckAuthorization
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=authorization_checker_mock.go github.com/prayermap/admin-console/internal/ports AuthorizationChecker
