package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prayermap/admin-console/internal/adapters/postgres"
	"github.com/prayermap/admin-console/internal/bootstrap"
	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
)

const (
	defaultMigrationTimeout = 5 * time.Minute
	defaultCommandTimeout   = 30 * time.Second
)

type migrateOptions struct {
	Timeout     time.Duration
	AllowRemote bool
}

type roleOptions struct {
	UserID string
	Role   domainauth.Role
	Yes    bool
	JSON   bool
}

func runMigrations(cmdCtx *commandContext, args []string) error {
	opts, err := parseMigrateFlags(args)
	if err != nil {
		return err
	}
	if isLikelyRemoteHost(cmdCtx.Config.Postgres.Host) && !opts.AllowRemote {
		return fmt.Errorf(
			"refusing to migrate potentially remote database host %q; re-run with --allow-remote if this is intentional",
			cmdCtx.Config.Postgres.Host,
		)
	}

	return withDatabase(cmdCtx, opts.Timeout, func(ctx context.Context, db *sql.DB) error {
		cmdCtx.Logger.Info("running database migrations")
		if migrateErr := bootstrap.RunMigrations(ctx, db, cmdCtx.Logger); migrateErr != nil {
			return migrateErr
		}
		cmdCtx.Logger.Info("migrations completed successfully")
		return nil
	})
}

func runGrantRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseRoleFlags("grant-role", args, true)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		store, storeErr := postgres.NewRoleStore(db)
		if storeErr != nil {
			return storeErr
		}
		if grantErr := store.Grant(ctx, opts.UserID, opts.Role); grantErr != nil {
			return grantErr
		}
		return writef(cmdCtx.Stdout, "granted %s to %s\n", opts.Role, opts.UserID)
	})
}

func runRevokeRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseRoleFlags("revoke-role", args, false)
	if err != nil {
		return err
	}
	if confirmErr := confirm(cmdCtx, opts.Yes, "revoke the dashboard role of "+opts.UserID); confirmErr != nil {
		return confirmErr
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		store, storeErr := postgres.NewRoleStore(db)
		if storeErr != nil {
			return storeErr
		}
		removed, revokeErr := store.Revoke(ctx, opts.UserID)
		if revokeErr != nil {
			return revokeErr
		}
		if !removed {
			return writef(cmdCtx.Stdout, "%s held no role\n", opts.UserID)
		}
		return writef(cmdCtx.Stdout, "revoked role of %s\n", opts.UserID)
	})
}

func runListRoles(cmdCtx *commandContext, args []string) error {
	opts, err := parseListRolesFlags(args)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		store, storeErr := postgres.NewRoleStore(db)
		if storeErr != nil {
			return storeErr
		}
		grants, listErr := store.List(ctx)
		if listErr != nil {
			return listErr
		}
		return printRoleGrants(cmdCtx.Stdout, grants, opts.JSON)
	})
}

func runCheckRole(cmdCtx *commandContext, args []string) error {
	opts, err := parseRoleFlags("check-role", args, false)
	if err != nil {
		return err
	}
	return withDatabase(cmdCtx, defaultCommandTimeout, func(ctx context.Context, db *sql.DB) error {
		checker, checkerErr := postgres.NewAuthorizationChecker(postgres.AuthorizationCheckerOptions{
			DB:       db,
			Function: cmdCtx.Config.Auth.RoleFunction,
		})
		if checkerErr != nil {
			return checkerErr
		}
		role, checkErr := checker.CheckAuthorization(ctx, opts.UserID)
		if checkErr != nil {
			return checkErr
		}
		if role == "" {
			return writef(cmdCtx.Stdout, "%s: not authorized\n", opts.UserID)
		}
		return writef(cmdCtx.Stdout, "%s: %s\n", opts.UserID, role)
	})
}

type roleGrantJSON struct {
	UserID    string          `json:"user_id"`
	Role      domainauth.Role `json:"role"`
	GrantedAt time.Time       `json:"granted_at"`
}

func printRoleGrants(w io.Writer, grants []postgres.RoleGrant, asJSON bool) error {
	if asJSON {
		out := make([]roleGrantJSON, 0, len(grants))
		for _, g := range grants {
			out = append(out, roleGrantJSON(g))
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(grants) == 0 {
		return writeln(w, "No role grants found.")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "USER ID\tROLE\tGRANTED AT\n"); err != nil {
		return err
	}
	for _, g := range grants {
		if err := writef(tw, "%s\t%s\t%s\n", g.UserID, g.Role, g.GrantedAt.UTC().Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func parseMigrateFlags(args []string) (migrateOptions, error) {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	opts := migrateOptions{}
	fs.DurationVar(&opts.Timeout, "timeout", defaultMigrationTimeout, "Maximum duration to wait for migrations to complete")
	fs.BoolVar(&opts.AllowRemote, "allow-remote", false, "Allow migrating a non-local database host")

	if err := fs.Parse(args); err != nil {
		return migrateOptions{}, err
	}
	if opts.Timeout <= 0 {
		return migrateOptions{}, errors.New("--timeout must be greater than zero")
	}
	return opts, nil
}

func parseRoleFlags(name string, args []string, wantRole bool) (roleOptions, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var (
		opts roleOptions
		role string
	)
	fs.StringVar(&opts.UserID, "user", "", "User id (the provider subject)")
	if wantRole {
		fs.StringVar(&role, "role", string(domainauth.RoleAdmin), "Role to grant: admin or moderator")
	} else {
		fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	}

	if err := fs.Parse(args); err != nil {
		return roleOptions{}, err
	}
	opts.UserID = strings.TrimSpace(opts.UserID)
	if opts.UserID == "" {
		return roleOptions{}, errors.New("--user is required")
	}
	if wantRole {
		opts.Role = domainauth.Role(strings.ToLower(strings.TrimSpace(role)))
		if !opts.Role.Valid() {
			return roleOptions{}, fmt.Errorf("--role must be admin or moderator, got %q", role)
		}
	}
	return opts, nil
}

func parseListRolesFlags(args []string) (roleOptions, error) {
	fs := flag.NewFlagSet("list-roles", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts roleOptions
	fs.BoolVar(&opts.JSON, "json", false, "Print grants as JSON")
	if err := fs.Parse(args); err != nil {
		return roleOptions{}, err
	}
	return opts, nil
}

func withDatabase(
	cmdCtx *commandContext,
	timeout time.Duration,
	f func(context.Context, *sql.DB) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	db, err := bootstrap.ConnectDB(ctx, bootstrap.DatabaseConfig{
		DBConfig: cmdCtx.Config.Postgres,
		Logger:   cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect db: %w", err)
	}
	defer func() {
		if cerr := db.Close(); cerr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", cerr)
		}
	}()

	return f(ctx, db)
}
