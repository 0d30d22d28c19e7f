package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dukerupert/stampd/internal/model"
)

func staffCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "staff",
		Short: "Manage who may issue stamps for a business",
	}
	cmd.AddCommand(staffAddCmd())
	cmd.AddCommand(staffRemoveCmd())
	cmd.AddCommand(staffListCmd())
	return cmd
}

func staffAddCmd() *cobra.Command {
	var role string
	cmd := &cobra.Command{
		Use:   "add [business-id] [user-id]",
		Short: "Add or update a staff member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := model.StaffRole(role)
			if !r.Valid() {
				return fmt.Errorf("role must be staff or manager")
			}
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			if _, err := a.owner(cmd, args[0]); err != nil {
				return err
			}
			_, err = a.staff.AddMember(cmd.Context(), args[0], args[1], r)
			return err
		},
	}
	cmd.Flags().StringVar(&role, "role", string(model.RoleStaff), "staff or manager")
	return cmd
}

func staffRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove [business-id] [user-id]",
		Short: "Remove a staff member",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return a.staff.RemoveMember(cmd.Context(), args[0], args[1])
		},
	}
}

func staffListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list [business-id]",
		Short: "List staff members",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			members, err := a.staff.ListMembers(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "USER\tROLE\tSINCE")
			for _, m := range members {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", m.UserID, m.Role, m.CreatedAt.Format("2006-01-02"))
			}
			return tw.Flush()
		},
	}
}
