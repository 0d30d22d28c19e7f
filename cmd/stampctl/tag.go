package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func tagCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tag",
		Short: "Provision and maintain NFC tags",
		Long: `Provision and maintain NFC tags.

Payloads are printed as "uid<TAB>payload" lines for an external encoder.`,
	}
	cmd.AddCommand(tagProvisionCmd())
	cmd.AddCommand(tagRefreshCmd())
	cmd.AddCommand(tagDeactivateCmd())
	cmd.AddCommand(tagListCmd())
	return cmd
}

func tagProvisionCmd() *cobra.Command {
	var (
		businessID string
		branch     int
		reassign   bool
	)
	cmd := &cobra.Command{
		Use:   "provision [uid]",
		Short: "Bind a tag to a business branch and print its payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.prov.Provision(cmd.Context(), args[0], businessID, branch, reassign, time.Now())
			return err
		},
	}
	cmd.Flags().StringVar(&businessID, "business", "", "business id")
	cmd.Flags().IntVar(&branch, "branch", 1, "branch number")
	cmd.Flags().BoolVar(&reassign, "reassign", false, "move an already provisioned tag")
	cmd.MarkFlagRequired("business")
	return cmd
}

func tagRefreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh [business-id]",
		Short: "Print fresh payloads for every active tag of a business",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			_, err = a.prov.RefreshAll(cmd.Context(), args[0], time.Now())
			return err
		},
	}
}

func tagDeactivateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deactivate [uid]",
		Short: "Stop a tag from authorizing stamps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.prov.Deactivate(cmd.Context(), args[0])
		},
	}
}

func tagListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [business-id]",
		Short: "List a business's tags",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			tags, err := a.tags.ListByBusiness(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "UID\tBRANCH\tACTIVE")
			for _, t := range tags {
				fmt.Fprintf(tw, "%s\t%d\t%t\n", t.UID, t.BranchNumber, t.IsActive)
			}
			return tw.Flush()
		},
	}
}
