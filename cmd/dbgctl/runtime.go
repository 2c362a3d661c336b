package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/hashicorp/go-multierror"
	"github.com/urfave/cli/v3"

	"github.com/localrivet/dbgctl/client"
	"github.com/localrivet/dbgctl/config"
	"github.com/localrivet/dbgctl/logx"
	"github.com/localrivet/dbgctl/recovery"
	"github.com/localrivet/dbgctl/session"
)

type runtimeKey struct{}

// runtime is everything a command needs, built once in the root Before hook.
type runtime struct {
	cfg      *config.Config
	logger   logx.Logger
	client   *client.Client
	store    *session.Store
	state    *session.State
	recovery *recovery.Recovery
	out      io.Writer
}

var errNoServerURL = errors.New("no server URL configured; pass --server-url or set DBGCTL_SERVER_URL")

func fromContext(ctx context.Context) *runtime {
	rt, _ := ctx.Value(runtimeKey{}).(*runtime)
	return rt
}

// flagOverrides maps the global flags that were set onto config keys.
func flagOverrides(cmd *cli.Command) map[string]interface{} {
	overrides := map[string]interface{}{}
	for flag, key := range map[string]string{
		"server-url":   config.KeyServerURL,
		"api-key":      config.KeyAPIKey,
		"user-id":      config.KeyUserID,
		"tool-timeout": config.KeyToolTimeout,
		"state-db":     config.KeyStateDB,
		"log-level":    config.KeyLogLevel,
	} {
		if cmd.IsSet(flag) {
			overrides[key] = cmd.String(flag)
		}
	}
	if cmd.Bool("verbose") {
		overrides[config.KeyLogLevel] = "debug"
	}
	return overrides
}

func setup(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	cfg, err := config.Load(config.Options{
		Path:      cmd.String("config"),
		Overrides: flagOverrides(cmd),
	})
	if err != nil {
		return ctx, err
	}

	errWriter := cmd.Root().ErrWriter
	if errWriter == nil {
		errWriter = os.Stderr
	}
	logger := logx.NewLogger(errWriter, logx.ParseLevel(cfg.LogLevel))
	if cfg.File != "" {
		logger.Debug("Loaded config from %s", cfg.File)
	}

	store, err := session.OpenStore(cfg.StateDB)
	if err != nil {
		return ctx, err
	}

	userID := cfg.UserID
	if userID == "" {
		if userID, err = store.DefaultUserID(ctx); err != nil {
			_ = store.Close()
			return ctx, err
		}
	}
	state, err := store.Load(ctx, cfg.ServerURL, userID)
	if err != nil {
		_ = store.Close()
		return ctx, err
	}

	policy, err := recovery.NewPolicy(cfg.ReconnectBackoff, cfg.ReconnectDelay, cfg.ReconnectMaxDelay, cfg.ReconnectAttempts)
	if err != nil {
		_ = store.Close()
		return ctx, err
	}

	// The stream client has no overall timeout; the SSE response lives for the
	// whole command.
	transport := http.DefaultTransport.(*http.Transport).Clone()
	headers := make(http.Header, len(cfg.Headers))
	for name, value := range cfg.Headers {
		headers.Set(name, value)
	}
	c := client.New(
		client.WithLogger(logger),
		client.WithHTTPClient(&http.Client{Transport: transport, Timeout: cfg.RequestTimeout}),
		client.WithStreamHTTPClient(&http.Client{Transport: transport}),
		client.WithHeaders(headers),
		client.WithSSEPath(cfg.SSEPath),
		client.WithHealthPath(cfg.HealthPath),
		client.WithAPIKeyHeader(cfg.APIKeyHeader),
		client.WithToolResponseTimeout(cfg.ToolTimeout),
		client.WithAnalyzeTimeout(cfg.AnalyzeTimeout),
		client.WithClientInfo("dbgctl", version),
	)
	c.SetTarget(cfg.ServerURL, cfg.APIKey)
	logger.Debug("Correlation ID %s, user %s", c.CorrelationID(), userID)

	out := cmd.Root().Writer
	if out == nil {
		out = os.Stdout
	}

	rt := &runtime{
		cfg:    cfg,
		logger: logger,
		client: c,
		store:  store,
		state:  state,
		out:    out,
	}
	rt.recovery = recovery.New(c, state,
		recovery.WithPolicy(policy),
		recovery.WithLogger(logger),
		recovery.WithResyncHook(rt.persistResync),
	)
	return context.WithValue(ctx, runtimeKey{}, rt), nil
}

func teardown(ctx context.Context, cmd *cli.Command) error {
	rt := fromContext(ctx)
	if rt == nil {
		return nil
	}

	var result *multierror.Error
	if rt.cfg.ServerURL != "" {
		if err := rt.store.Save(context.WithoutCancel(ctx), rt.cfg.ServerURL, rt.state); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := rt.client.Disconnect(); err != nil {
		result = multierror.Append(result, fmt.Errorf("disconnect: %w", err))
	}
	if err := rt.store.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("close state database: %w", err))
	}
	return result.ErrorOrNil()
}

// persistResync saves the state a reconnect just resynchronized, so a command
// that fails afterwards still leaves the server's view on disk.
func (rt *runtime) persistResync(status session.Status) {
	if status == session.StatusNotSynced || rt.cfg.ServerURL == "" {
		return
	}
	if err := rt.store.Save(context.Background(), rt.cfg.ServerURL, rt.state); err != nil {
		rt.logger.Warn("Could not save resynchronized state: %v", err)
		return
	}
	rt.logger.Debug("Saved state after resync (%s)", status)
}

// connect opens the stream, falling back to the reconnect policy when the
// first attempt fails on a connectivity error.
func (rt *runtime) connect(ctx context.Context) error {
	if rt.client.IsConnected() {
		return nil
	}
	if rt.cfg.ServerURL == "" {
		return errNoServerURL
	}
	err := rt.client.Connect(ctx, rt.cfg.ServerURL, rt.cfg.APIKey)
	if err == nil {
		return nil
	}
	if !recovery.IsRecoverable(err) || !rt.recovery.TryRecover(ctx) {
		return err
	}
	return nil
}

// requireSession returns the active session or an error telling the user how
// to get one.
func (rt *runtime) requireSession() (string, error) {
	if !rt.state.HasSession() {
		return "", errors.New("no active session; run 'dbgctl session create' or 'dbgctl session restore <id>'")
	}
	return rt.state.SessionID(), nil
}

// call connects and runs op through the recovery policy. A session the server
// no longer knows is dropped from local state.
func call[T any](ctx context.Context, rt *runtime, name string, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := rt.connect(ctx); err != nil {
		return zero, err
	}
	result, err := recovery.ExecuteWithRecovery(ctx, rt.recovery, name, op)
	if err != nil && client.IsSessionNotFound(err) && rt.state.HasSession() {
		rt.logger.Warn("Session %s is gone; clearing local session", rt.state.SessionID())
		rt.state.Clear()
	}
	return result, err
}

func (rt *runtime) println(a ...interface{}) {
	fmt.Fprintln(rt.out, a...)
}

func (rt *runtime) printf(format string, a ...interface{}) {
	fmt.Fprintf(rt.out, format, a...)
}
