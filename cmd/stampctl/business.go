package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stampd/internal/store"
)

func businessCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "business",
		Short: "Manage businesses",
	}
	cmd.AddCommand(businessCreateCmd())
	cmd.AddCommand(businessListCmd())
	return cmd
}

func businessCreateCmd() *cobra.Command {
	var (
		owner     string
		stamps    int
		reward    string
		legacyRef string
		withKey   bool
	)
	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Register a business",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			nb := store.NewBusiness{
				Name:              args[0],
				OwnerUserID:       owner,
				StampsRequired:    stamps,
				RewardDescription: reward,
			}
			if ref := strings.TrimSpace(legacyRef); ref != "" {
				nb.LegacyRef = &ref
			}
			biz, err := a.businesses.Create(cmd.Context(), nb)
			if err != nil {
				return err
			}
			if withKey {
				if err := a.prov.GenerateKey(cmd.Context(), biz.ID); err != nil {
					return err
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), biz.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner user id")
	cmd.Flags().IntVar(&stamps, "stamps", 10, "stamps required to complete a card")
	cmd.Flags().StringVar(&reward, "reward", "", "reward description")
	cmd.Flags().StringVar(&legacyRef, "legacy-ref", "", "printed legacy reference for old QR codes")
	cmd.Flags().BoolVar(&withKey, "keygen", true, "generate a payload key")
	cmd.MarkFlagRequired("owner")
	return cmd
}

func businessListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List businesses",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			list, err := a.businesses.List(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tOWNER\tSTAMPS\tKEY")
			for _, b := range list {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\n", b.ID, b.Name, b.OwnerUserID, b.StampsRequired, b.HasSecret())
			}
			return tw.Flush()
		},
	}
}

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen [business-id]",
		Short: "Rotate a business payload key",
		Long: `Give the business a fresh payload secret.

Payloads sealed under the old secret stop verifying, so every tag of the
business must be refreshed afterwards with "stampctl tag refresh".`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.prov.GenerateKey(cmd.Context(), args[0])
		},
	}
}
