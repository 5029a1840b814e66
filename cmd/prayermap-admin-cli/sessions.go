package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	redisadapter "github.com/prayermap/admin-console/internal/adapters/redis"
	"github.com/prayermap/admin-console/internal/bootstrap"
	domainauth "github.com/prayermap/admin-console/internal/domain/auth"
)

// cliOrigin marks events published by this tool so no instance mistakes
// them for its own echo.
const cliOrigin = "admin-cli"

type clearSessionOptions struct {
	ConsoleID string
	Yes       bool
	NoNotify  bool
}

type sessionRow struct {
	ConsoleID string
	Subject   string
	Email     string
	TTL       time.Duration
}

func runListSessions(cmdCtx *commandContext, _ []string) error {
	return withRedis(cmdCtx, func(ctx context.Context, client redis.UniversalClient) error {
		store := redisadapter.NewSessionStoreWithPrefix(client, cmdCtx.Config.Redis.SessionPrefix)
		keys, err := store.Keys(ctx)
		if err != nil {
			return err
		}

		rows := make([]sessionRow, 0, len(keys))
		for _, key := range keys {
			sess, getErr := store.Get(ctx, key)
			if getErr != nil {
				// Expired or removed since the scan.
				continue
			}
			ttl, ttlErr := store.TTL(ctx, key)
			if ttlErr != nil {
				continue
			}
			rows = append(rows, sessionRow{ConsoleID: key, Subject: sess.Subject, Email: sess.Email, TTL: ttl})
		}
		return printSessions(cmdCtx.Stdout, rows)
	})
}

func runClearSession(cmdCtx *commandContext, args []string) error {
	opts, err := parseClearSessionFlags(args)
	if err != nil {
		return err
	}
	if confirmErr := confirm(cmdCtx, opts.Yes, "sign out console "+opts.ConsoleID); confirmErr != nil {
		return confirmErr
	}

	return withRedis(cmdCtx, func(ctx context.Context, client redis.UniversalClient) error {
		store := redisadapter.NewSessionStoreWithPrefix(client, cmdCtx.Config.Redis.SessionPrefix)
		if delErr := store.Delete(ctx, opts.ConsoleID); delErr != nil {
			return delErr
		}

		if !opts.NoNotify {
			relay, relayErr := redisadapter.NewEventRelay(redisadapter.EventRelayOptions{
				Client:        client,
				ChannelPrefix: cmdCtx.Config.Redis.EventChannelPrefix,
				Logger:        cmdCtx.Logger,
			})
			if relayErr != nil {
				return relayErr
			}
			ev := domainauth.Event{Type: domainauth.EventSignedOut, Origin: cliOrigin}
			if pubErr := relay.Publish(ctx, opts.ConsoleID, ev); pubErr != nil {
				return fmt.Errorf("notify instances: %w", pubErr)
			}
		}
		return writef(cmdCtx.Stdout, "cleared session for console %s\n", opts.ConsoleID)
	})
}

func printSessions(w io.Writer, rows []sessionRow) error {
	if len(rows) == 0 {
		return writeln(w, "No persisted sessions found.")
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writef(tw, "CONSOLE\tSUBJECT\tEMAIL\tEXPIRES IN\n"); err != nil {
		return err
	}
	for _, r := range rows {
		if err := writef(tw, "%s\t%s\t%s\t%s\n", r.ConsoleID, r.Subject, r.Email, renderTTL(r.TTL)); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func renderTTL(d time.Duration) string {
	if d <= 0 {
		return "never"
	}
	return d.Round(time.Second).String()
}

func parseClearSessionFlags(args []string) (clearSessionOptions, error) {
	fs := flag.NewFlagSet("clear-session", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts clearSessionOptions
	fs.StringVar(&opts.ConsoleID, "console", "", "Console id (the admin_console cookie value)")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip the confirmation prompt")
	fs.BoolVar(&opts.NoNotify, "no-notify", false, "Do not publish SIGNED_OUT to running instances")

	if err := fs.Parse(args); err != nil {
		return clearSessionOptions{}, err
	}
	opts.ConsoleID = strings.TrimSpace(opts.ConsoleID)
	if opts.ConsoleID == "" {
		return clearSessionOptions{}, errors.New("--console is required")
	}
	return opts, nil
}

func withRedis(cmdCtx *commandContext, f func(context.Context, redis.UniversalClient) error) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, defaultCommandTimeout)
	defer cancel()

	client, err := bootstrap.ConnectRedis(ctx, bootstrap.DatabaseConfig{
		RedisConfig: cmdCtx.Config.Redis,
		Logger:      cmdCtx.Logger,
	})
	if err != nil {
		return fmt.Errorf("connect redis: %w", err)
	}
	defer func() {
		if cerr := client.Close(); cerr != nil {
			cmdCtx.Logger.Warn("redis close failed", "error", cerr)
		}
	}()

	return f(ctx, client)
}

func confirm(cmdCtx *commandContext, yes bool, action string) error {
	if yes {
		return nil
	}
	if err := writef(cmdCtx.Stdout, "About to %s.\nContinue? [y/N]: ", action); err != nil {
		return fmt.Errorf("print confirmation prompt: %w", err)
	}
	resp, err := bufio.NewReader(cmdCtx.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read confirmation: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(resp)) {
	case "y", "yes":
		return nil
	default:
		return errors.New("aborted by user")
	}
}

func isLikelyRemoteHost(host string) bool {
	h := strings.ToLower(strings.TrimSpace(host))
	if h == "" {
		return false
	}
	if h == "localhost" || h == "127.0.0.1" || h == "::1" {
		return false
	}
	if strings.HasSuffix(h, ".local") {
		return false
	}
	if ip := net.ParseIP(host); ip != nil {
		return !ip.IsLoopback()
	}
	return true
}
