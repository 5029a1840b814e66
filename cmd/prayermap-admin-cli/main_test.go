package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prayermap/admin-console/internal/adapters/postgres"
	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
)

func TestPrintUsageListsCommands(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printUsage(&buf))

	out := buf.String()
	for name := range commands() {
		assert.Contains(t, out, name)
	}
	assert.Less(t, strings.Index(out, "check-role"), strings.Index(out, "revoke-role"), "commands should be sorted")
}

func TestParseRoleFlags(t *testing.T) {
	opts, err := parseRoleFlags("grant-role", []string{"--user", " u-1 ", "--role", "Moderator"}, true)
	require.NoError(t, err)
	assert.Equal(t, "u-1", opts.UserID)
	assert.Equal(t, domainauth.RoleModerator, opts.Role)

	opts, err = parseRoleFlags("grant-role", []string{"--user", "u-1"}, true)
	require.NoError(t, err)
	assert.Equal(t, domainauth.RoleAdmin, opts.Role)

	_, err = parseRoleFlags("grant-role", []string{"--user", "u-1", "--role", "owner"}, true)
	require.Error(t, err)

	_, err = parseRoleFlags("revoke-role", []string{"--yes"}, false)
	require.Error(t, err)

	opts, err = parseRoleFlags("revoke-role", []string{"--user", "u-1", "--yes"}, false)
	require.NoError(t, err)
	assert.True(t, opts.Yes)
}

func TestParseMigrateFlags(t *testing.T) {
	opts, err := parseMigrateFlags(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultMigrationTimeout, opts.Timeout)

	_, err = parseMigrateFlags([]string{"--timeout", "0s"})
	require.Error(t, err)
}

func TestParseClearSessionFlags(t *testing.T) {
	_, err := parseClearSessionFlags(nil)
	require.Error(t, err)

	opts, err := parseClearSessionFlags([]string{"--console", "c-1", "--no-notify"})
	require.NoError(t, err)
	assert.Equal(t, "c-1", opts.ConsoleID)
	assert.True(t, opts.NoNotify)
}

func TestPrintRoleGrants(t *testing.T) {
	grants := []postgres.RoleGrant{
		{UserID: "u-admin", Role: domainauth.RoleAdmin, GrantedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}

	var table bytes.Buffer
	require.NoError(t, printRoleGrants(&table, grants, false))
	assert.Contains(t, table.String(), "USER ID")
	assert.Contains(t, table.String(), "u-admin")
	assert.Contains(t, table.String(), "2026-01-02T03:04:05Z")

	var js bytes.Buffer
	require.NoError(t, printRoleGrants(&js, grants, true))
	assert.JSONEq(t, `[{"user_id":"u-admin","role":"admin","granted_at":"2026-01-02T03:04:05Z"}]`, js.String())

	var empty bytes.Buffer
	require.NoError(t, printRoleGrants(&empty, nil, false))
	assert.Equal(t, "No role grants found.\n", empty.String())
}

func TestPrintSessions(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printSessions(&buf, []sessionRow{
		{ConsoleID: "c-1", Subject: "u-1", Email: "a@prayermap.dev", TTL: 90 * time.Second},
		{ConsoleID: "c-2", Subject: "u-2", Email: "b@prayermap.dev"},
	}))
	out := buf.String()
	assert.Contains(t, out, "1m30s")
	assert.Contains(t, out, "never")
}

func TestConfirm(t *testing.T) {
	newCtx := func(input string) *commandContext {
		return &commandContext{
			Ctx:    context.Background(),
			Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
			Stdin:  strings.NewReader(input),
			Stdout: io.Discard,
		}
	}

	require.NoError(t, confirm(newCtx(""), true, "do it"))
	require.NoError(t, confirm(newCtx("y\n"), false, "do it"))
	require.NoError(t, confirm(newCtx("YES"), false, "do it"))
	require.Error(t, confirm(newCtx("n\n"), false, "do it"))
	require.Error(t, confirm(newCtx(""), false, "do it"))
}

func TestIsLikelyRemoteHost(t *testing.T) {
	for host, want := range map[string]bool{
		"":                false,
		"localhost":       false,
		"127.0.0.1":       false,
		"::1":             false,
		"db.local":        false,
		"10.0.0.5":        true,
		"db.prayermap.io": true,
	} {
		assert.Equal(t, want, isLikelyRemoteHost(host), host)
	}
}
