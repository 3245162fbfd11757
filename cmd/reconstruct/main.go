// Command reconstruct rebuilds pending settlements from the expense history and
// reports ledger drift.
//
// By default it opens the configured store directly, which is meant for maintenance
// windows. With -server it calls the admin service of a running server instead,
// signing an admin token with the configured JWT secret.
//
//	reconstruct -status
//	reconstruct -group grp_01h2x... -reset
//	reconstruct -server http://localhost:8080 -reset
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"connectrpc.com/connect"

	"github.com/mmynk/splitledger/internal/api"
	"github.com/mmynk/splitledger/internal/api/apiconnect"
	"github.com/mmynk/splitledger/internal/app"
	"github.com/mmynk/splitledger/internal/auth"
	"github.com/mmynk/splitledger/internal/config"
	"github.com/mmynk/splitledger/internal/ledger"
	"github.com/mmynk/splitledger/pkg/logging"
)

type options struct {
	configPath string
	groupID    string
	reset      bool
	statusOnly bool
	serverURL  string
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "path to a config file")
	flag.StringVar(&opts.groupID, "group", "", "limit the rebuild to one group")
	flag.BoolVar(&opts.reset, "reset", false, "drop pending settlements in scope before replaying expenses")
	flag.BoolVar(&opts.statusOnly, "status", false, "only print the ledger status")
	flag.StringVar(&opts.serverURL, "server", "", "base URL of a running server to call instead of opening the store")
	flag.Parse()

	if err := run(opts); err != nil {
		slog.Error("Reconstruct failed", "error", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	var backend admin
	if opts.serverURL != "" {
		backend, err = newRemoteAdmin(cfg, opts.serverURL)
	} else {
		backend, err = newLocalAdmin(ctx, cfg)
	}
	if err != nil {
		return err
	}
	defer backend.Close()

	if !opts.statusOnly {
		res, err := backend.Reconstruct(ctx, ledger.ReconstructOptions{GroupID: opts.groupID, Reset: opts.reset})
		if err != nil {
			return err
		}
		if err := printJSON("result", res); err != nil {
			return err
		}
	}

	status, err := backend.Status(ctx)
	if err != nil {
		return err
	}
	if err := printJSON("status", status); err != nil {
		return err
	}
	if !status.Consistent() {
		return fmt.Errorf("%d pending settlements drifted from their journal, %d expenses disagree with it",
			len(status.Drifted), len(status.Mismatched))
	}
	return nil
}

func printJSON(key string, v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{key: v})
}

// admin is the maintenance surface, served locally or by a running server.
type admin interface {
	Reconstruct(ctx context.Context, opts ledger.ReconstructOptions) (ledger.ReconstructResult, error)
	Status(ctx context.Context) (ledger.Status, error)
	Close() error
}

type localAdmin struct {
	*ledger.Ledger
	close func() error
}

func newLocalAdmin(ctx context.Context, cfg *config.Config) (*localAdmin, error) {
	store, err := app.OpenStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	l := ledger.New(store, ledger.WithMaxAttempts(cfg.Ledger.MaxAttempts), ledger.WithLogger(slog.Default()))
	return &localAdmin{Ledger: l, close: store.Close}, nil
}

func (a *localAdmin) Close() error { return a.close() }

type remoteAdmin struct {
	client *apiconnect.AdminServiceClient
	token  string
}

func newRemoteAdmin(cfg *config.Config, baseURL string) (*remoteAdmin, error) {
	token, err := auth.NewJWTManager(cfg.Auth.JWTSecret, 10*time.Minute).Generate("reconstruct-cli", "reconstruct", true)
	if err != nil {
		return nil, fmt.Errorf("failed to sign admin token: %w", err)
	}
	return &remoteAdmin{
		client: apiconnect.NewAdminServiceClient(http.DefaultClient, baseURL),
		token:  token,
	}, nil
}

func withToken[T any](token string, msg *T) *connect.Request[T] {
	req := connect.NewRequest(msg)
	req.Header().Set("Authorization", "Bearer "+token)
	return req
}

func (a *remoteAdmin) Reconstruct(ctx context.Context, opts ledger.ReconstructOptions) (ledger.ReconstructResult, error) {
	resp, err := a.client.ReconstructSettlements(ctx, withToken(a.token, &api.ReconstructSettlementsRequest{
		GroupID: opts.GroupID,
		Reset:   opts.Reset,
	}))
	if err != nil {
		return ledger.ReconstructResult{}, err
	}
	return resp.Msg.Result, nil
}

func (a *remoteAdmin) Status(ctx context.Context) (ledger.Status, error) {
	resp, err := a.client.LedgerStatus(ctx, withToken(a.token, &api.LedgerStatusRequest{}))
	if err != nil {
		return ledger.Status{}, err
	}
	return resp.Msg.Status, nil
}

func (a *remoteAdmin) Close() error { return nil }
