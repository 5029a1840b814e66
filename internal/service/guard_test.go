package service

import (
	"testing"

	"github.com/stretchr/testify/assert"

	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
)

func TestGuard(t *testing.T) {
	admin := &domainauth.Identity{ID: "u1", Email: "a@x.com", Role: domainauth.RoleAdmin}

	tests := []struct {
		name  string
		state domainauth.State
		want  Decision
	}{
		{name: "uninitialized", state: domainauth.State{Loading: true, Phase: domainauth.PhaseUninitialized}, want: DecisionLoading},
		{name: "resolving with stale identity", state: domainauth.State{Loading: true, Identity: admin, IsAdmin: true}, want: DecisionLoading},
		{name: "signed out", state: domainauth.State{Phase: domainauth.PhaseSignedOut}, want: DecisionRedirectLogin},
		{name: "unauthorized", state: domainauth.State{Phase: domainauth.PhaseUnauthorized}, want: DecisionRedirectLogin},
		{name: "authorized", state: domainauth.State{Identity: admin, IsAdmin: true}, want: DecisionRender},
		{name: "is admin without identity", state: domainauth.State{IsAdmin: true}, want: DecisionRedirectLogin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Guard(tt.state))
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "loading", DecisionLoading.String())
	assert.Equal(t, "redirect_login", DecisionRedirectLogin.String())
	assert.Equal(t, "render", DecisionRender.String())
	assert.Equal(t, "unknown", Decision(42).String())
}
