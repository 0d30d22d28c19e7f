// Command stampctl is the operator tool for a stampd database: migrations,
// businesses, payload keys, NFC tags, stamp batches and staff.
package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stampd/internal/config"
	"github.com/dukerupert/stampd/internal/database"
	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/logging"
	"github.com/dukerupert/stampd/internal/provision"
	"github.com/dukerupert/stampd/internal/secure"
	"github.com/dukerupert/stampd/internal/store"
)

var Version = "dev"

var (
	dbPath   string
	logLevel string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "stampctl",
		Short:         "Administer a stampd database",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "database path (default $STAMPD_DB_PATH)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(businessCmd())
	rootCmd.AddCommand(keygenCmd())
	rootCmd.AddCommand(tagCmd())
	rootCmd.AddCommand(issueCmd())
	rootCmd.AddCommand(voidCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(staffCmd())
	rootCmd.AddCommand(backupCmd())
	return rootCmd
}

// app holds the services a command works through.
type app struct {
	cfg        *config.Config
	db         *sql.DB
	businesses *store.BusinessStore
	tokens     *store.TokenStore
	tags       *store.TagStore
	staff      *store.StaffStore
	issuer     *issuance.Service
	prov       *provision.Service
	logger     *slog.Logger
}

func openApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	logger := logging.Setup(logLevel)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}

	keys, err := secure.NewKeyCache(cfg.KeyCacheSize)
	if err != nil {
		db.Close()
		return nil, err
	}

	a := &app{
		cfg:        cfg,
		db:         db,
		businesses: store.NewBusinessStore(db),
		tokens:     store.NewTokenStore(db),
		tags:       store.NewTagStore(db),
		staff:      store.NewStaffStore(db),
		logger:     logger,
	}
	a.issuer = issuance.NewService(a.businesses, a.tokens, a.staff, nil, issuance.Options{
		DefaultExpiryDays: cfg.DefaultExpiryDays,
		StaffNFCTTL:       cfg.StaffNFCTTL,
		StaffQRTTL:        cfg.StaffQRTTL,
	}, logger)
	a.prov = provision.NewService(a.businesses, a.tags, keys, &provision.PrintWriter{W: cmd.OutOrStdout()}, logger)
	return a, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// owner resolves the owner of a business so operator commands can act
// with the owner's authority.
func (a *app) owner(cmd *cobra.Command, businessID string) (string, error) {
	biz, err := a.businesses.GetByID(cmd.Context(), businessID)
	if err != nil {
		return "", err
	}
	if biz == nil {
		return "", store.ErrBusinessNotFound
	}
	return biz.OwnerUserID, nil
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			v, err := database.Version(a.db)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "schema version %d\n", v)
			return nil
		},
	}
}
