package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stampd/internal/backup"
)

func backupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Encrypted database snapshots in S3-compatible storage",
		Long: `Encrypted database snapshots in S3-compatible storage.

Configure with STAMPD_BACKUP_S3_BUCKET, STAMPD_BACKUP_S3_ACCESS_KEY,
STAMPD_BACKUP_S3_SECRET_KEY and STAMPD_BACKUP_PASSPHRASE.`,
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Snapshot, encrypt and upload the database",
		RunE: withBackup(func(cmd *cobra.Command, a *app, m *backup.Manager, args []string) error {
			obj, err := m.Run(cmd.Context(), a.cfg.Backup.Passphrase, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), obj.Key)
			return nil
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored snapshots",
		RunE: withBackup(func(cmd *cobra.Command, a *app, m *backup.Manager, args []string) error {
			objects, err := m.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "KEY\tSIZE\tCREATED")
			for _, o := range objects {
				fmt.Fprintf(tw, "%s\t%d\t%s\n", o.Key, o.Size, o.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "restore [key] [path]",
		Short: "Download and decrypt a snapshot to a new database file",
		Args:  cobra.ExactArgs(2),
		RunE: withBackup(func(cmd *cobra.Command, a *app, m *backup.Manager, args []string) error {
			return m.Restore(cmd.Context(), args[0], a.cfg.Backup.Passphrase, args[1])
		}),
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "prune",
		Short: "Delete snapshots older than STAMPD_BACKUP_RETENTION",
		RunE: withBackup(func(cmd *cobra.Command, a *app, m *backup.Manager, args []string) error {
			n, err := m.Prune(cmd.Context(), a.cfg.Backup.Retention, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %d snapshots\n", n)
			return nil
		}),
	})
	return cmd
}

func withBackup(fn func(*cobra.Command, *app, *backup.Manager, []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		bc := a.cfg.Backup
		m, err := backup.NewManager(a.db, backup.S3Config{
			Endpoint:  bc.Endpoint,
			Bucket:    bc.Bucket,
			Region:    bc.Region,
			AccessKey: bc.AccessKey,
			SecretKey: bc.SecretKey,
			Prefix:    bc.Prefix,
		}, a.logger.With("component", "backup"))
		if err != nil {
			return err
		}
		return fn(cmd, a, m, args)
	}
}
