package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stampd/internal/issuance"
	"github.com/dukerupert/stampd/internal/store"
)

func issueCmd() *cobra.Command {
	var (
		quantity int
		days     int
		asJSON   bool
	)
	cmd := &cobra.Command{
		Use:   "issue [business-id]",
		Short: "Issue a batch of one-time stamps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			owner, err := a.owner(cmd, args[0])
			if err != nil {
				return err
			}
			batch, err := a.issuer.IssueBatch(cmd.Context(), owner, args[0], quantity, days, time.Now())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(batch)
			}
			for _, s := range batch.Stamps {
				fmt.Fprintln(out, s.Scan)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&quantity, "quantity", "n", 10, fmt.Sprintf("stamps to issue (%d-%d)", store.MinBatch, store.MaxBatch))
	cmd.Flags().IntVar(&days, "days", 0, "days until expiry (default $STAMPD_DEFAULT_EXPIRY_DAYS)")
	cmd.Flags().BoolVarP(&asJSON, "json", "j", false, "output as JSON")
	return cmd
}

func voidCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "void [code]",
		Short: "Void an unclaimed stamp",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			t, err := a.tokens.FetchByCode(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return issuance.ErrTokenNotFound
			}
			owner, err := a.owner(cmd, t.BusinessID)
			if err != nil {
				return err
			}
			if _, err := a.issuer.Void(cmd.Context(), owner, args[0], time.Now()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "voided", args[0])
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats [business-id]",
		Short: "Show stamp counts by status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			owner, err := a.owner(cmd, args[0])
			if err != nil {
				return err
			}
			st, err := a.issuer.Stats(cmd.Context(), owner, args[0], time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "total %d\nactive %d\nused %d\nexpired %d\nvoided %d\n",
				st.Total, st.Active, st.Used, st.Expired, st.Voided)
			return nil
		},
	}
}
