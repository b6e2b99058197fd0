package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/davidahmann/claimflow/internal/ledger/pgstore"
	"github.com/davidahmann/claimflow/internal/ledger/sqlstore"
	"github.com/davidahmann/claimflow/pkg/types"
)

const defaultAddr = "http://localhost:8080"

var exitFn = os.Exit

func main() {
	if err := newRootCmd().Execute(); err != nil {
		exitFn(1)
	}
}

type cliOptions struct {
	addr  string
	token string
}

func newRootCmd() *cobra.Command {
	opts := &cliOptions{}

	root := &cobra.Command{
		Use:           "claimflow",
		Short:         "Back-office CLI for the claimflow gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.addr, "addr", envOrDefault("CLAIMFLOW_ADDR", defaultAddr), "gateway address")
	root.PersistentFlags().StringVar(&opts.token, "token", os.Getenv("CLAIMFLOW_API_TOKEN"), "bearer token")

	root.AddCommand(newClaimCmd(opts))
	root.AddCommand(newAuditCmd(opts))
	root.AddCommand(newArchiveCmd(opts))
	root.AddCommand(newMigrateCmd())
	return root
}

func newClaimCmd(opts *cliOptions) *cobra.Command {
	claimCmd := &cobra.Command{Use: "claim", Short: "Inspect claims"}

	get := &cobra.Command{
		Use:   "get <claim_id>",
		Short: "Fetch a claim body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, status, err := httpGet(opts, "/v1/claims/"+args[0])
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("claim get failed (%d): %s", status, body)
			}
			cmd.Print(string(body))
			return nil
		},
	}
	claimCmd.AddCommand(get)
	return claimCmd
}

func newAuditCmd(opts *cliOptions) *cobra.Command {
	auditCmd := &cobra.Command{Use: "audit", Short: "Inspect a claim's audit trail"}

	list := &cobra.Command{
		Use:   "list <claim_id>",
		Short: "List audit entries in chronological order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := fetchAudit(opts, args[0])
			if err != nil {
				return err
			}
			for _, entry := range resp.Entries {
				cmd.Printf("%d\t%s\t%s\t%s\t%s\n", entry.Seq, entry.AttemptedAt, entry.Stage, entry.Result, entry.Detail)
			}
			return nil
		},
	}

	verify := &cobra.Command{
		Use:   "verify <claim_id>",
		Short: "Re-verify the audit digest chain",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := fetchAudit(opts, args[0])
			if err != nil {
				return err
			}
			if !resp.ChainValid {
				return fmt.Errorf("chain invalid: %s", resp.ChainError)
			}
			cmd.Printf("chain valid, %d entries\n", len(resp.Entries))
			return nil
		},
	}

	auditCmd.AddCommand(list, verify)
	return auditCmd
}

func newArchiveCmd(opts *cliOptions) *cobra.Command {
	var outPath string

	archiveCmd := &cobra.Command{
		Use:   "archive <claim_id>",
		Short: "Download a claim's archive bundle",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, status, err := httpGet(opts, "/v1/claims/"+args[0]+"/archive")
			if err != nil {
				return err
			}
			if status != http.StatusOK {
				return fmt.Errorf("archive failed (%d): %s", status, body)
			}
			out := outPath
			if out == "" {
				out = args[0] + "-claimfile.zip"
			}
			if dir := filepath.Dir(out); dir != "." {
				if err := os.MkdirAll(dir, 0o750); err != nil {
					return err
				}
			}
			if err := os.WriteFile(out, body, 0o600); err != nil {
				return err
			}
			cmd.Printf("wrote %s\n", out)
			return nil
		},
	}
	archiveCmd.Flags().StringVar(&outPath, "out", "", "output zip path")
	return archiveCmd
}

func newMigrateCmd() *cobra.Command {
	var driver, dsn string

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply ledger schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			switch driver {
			case "sqlite":
				store, err := sqlstore.OpenSQLite(dsn)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Migrate(); err != nil {
					return err
				}
			case "postgres":
				store, err := pgstore.OpenPostgres(dsn)
				if err != nil {
					return err
				}
				defer store.Close()
				if err := store.Migrate(); err != nil {
					return err
				}
			default:
				return fmt.Errorf("driver must be sqlite or postgres, got %q", driver)
			}
			cmd.Println("migrations applied")
			return nil
		},
	}
	migrateCmd.Flags().StringVar(&driver, "driver", "sqlite", "db driver (sqlite or postgres)")
	migrateCmd.Flags().StringVar(&dsn, "dsn", "", "database DSN")
	_ = migrateCmd.MarkFlagRequired("dsn")
	return migrateCmd
}

func fetchAudit(opts *cliOptions, claimID string) (types.AuditResponse, error) {
	body, status, err := httpGet(opts, "/v1/claims/"+claimID+"/audit")
	if err != nil {
		return types.AuditResponse{}, err
	}
	if status != http.StatusOK {
		return types.AuditResponse{}, fmt.Errorf("audit fetch failed (%d): %s", status, body)
	}
	var resp types.AuditResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return types.AuditResponse{}, fmt.Errorf("invalid response: %w", err)
	}
	return resp, nil
}

func httpGet(opts *cliOptions, path string) ([]byte, int, error) {
	req, err := http.NewRequest(http.MethodGet, opts.addr+path, nil)
	if err != nil {
		return nil, 0, err
	}
	if opts.token != "" {
		req.Header.Set("Authorization", "Bearer "+opts.token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func envOrDefault(key string, fallback string) string {
	value := os.Getenv(key)
	if value != "" {
		return value
	}
	return fallback
}
