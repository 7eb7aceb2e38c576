package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore"
)

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage account status, locks and sessions",
	}
	cmd.AddCommand(
		newUserAddCmd(a),
		newUserLockCmd(a),
		newUserUnlockCmd(a),
		newUserStatusCmd(a),
		newUserSessionsCmd(a),
		newUserLogoutAllCmd(a),
	)
	return cmd
}

func newUserAddCmd(a *app) *cobra.Command {
	var (
		uuid   string
		role   string
		status string
	)
	cmd := &cobra.Command{
		Use:   "add <user-id>",
		Short: "Register or update a user reference",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			ref := authcore.UserRef{UserID: args[0], UserUUID: uuid, Role: role}
			if err := rt.users.Upsert(cmd.Context(), ref, authcore.AccountStatus(status)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s saved (%s, %s)\n", ref.UserID, ref.Role, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&uuid, "uuid", "", "public user uuid")
	cmd.Flags().StringVar(&role, "role", "USER", "role claim")
	cmd.Flags().StringVar(&status, "status", string(authcore.AccountActive), "account status")
	return cmd
}

func newUserLockCmd(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "lock <user-id>",
		Short: "Lock an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			if err := rt.engine.LockAccount(cmd.Context(), args[0], reason); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s locked\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "Locked by administrator", "lock reason shown to the user")
	return cmd
}

func newUserUnlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <user-id>",
		Short: "Unlock an account and clear its failure counter",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			if err := rt.engine.UnlockAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "user %s unlocked\n", args[0])
			return nil
		},
	}
}

type userStatusView struct {
	UserID         string                 `json:"userId"`
	Status         authcore.AccountStatus `json:"status"`
	FailedAttempts int                    `json:"failedAttempts"`
	LockReason     string                 `json:"lockReason,omitempty"`
	MFARequired    bool                   `json:"mfaRequired"`
	HasPasskeys    bool                   `json:"hasPasskeys"`
}

func newUserStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <user-id>",
		Short: "Show status, lockout state and second factors",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, err := a.openRuntime(ctx)
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			userID := args[0]
			view := userStatusView{UserID: userID}
			if view.Status, err = rt.users.UserStatus(ctx, userID); err != nil {
				return err
			}
			if view.FailedAttempts, err = rt.engine.FailedAttempts(ctx, userID); err != nil {
				return err
			}
			if view.LockReason, err = rt.engine.LockReason(ctx, userID); err != nil {
				return err
			}
			if view.MFARequired, err = rt.engine.RequiresMFA(ctx, userID); err != nil {
				return err
			}
			if view.HasPasskeys, err = rt.engine.HasPasskeys(ctx, userID); err != nil {
				return err
			}
			return printJSON(cmd, view)
		},
	}
}

func newUserSessionsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions <user-id>",
		Short: "List live sessions, most recent first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			sessions, err := rt.engine.ActiveSessions(cmd.Context(), args[0], "")
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SESSION\tDEVICE\tBROWSER\tOS\tIP\tLAST ACTIVITY")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
					s.SessionID, s.DeviceType, s.Browser, s.OS, s.IPAddress, s.LastActivity.Format("2006-01-02 15:04:05"))
			}
			return tw.Flush()
		},
	}
}

func newUserLogoutAllCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "logout-all <user-id>",
		Short: "Revoke every refresh token of a user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			if err := rt.engine.LogoutAll(cmd.Context(), args[0], ""); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sessions of %s revoked\n", args[0])
			return nil
		},
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
