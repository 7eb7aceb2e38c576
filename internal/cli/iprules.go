package cli

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/authcore/ipaccess"
)

func newIPCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ip",
		Short: "Manage IP allow and block rules",
	}
	cmd.AddCommand(
		newIPListCmd(a),
		newIPRuleCmd(a, "block", ipaccess.RuleBlock),
		newIPRuleCmd(a, "allow", ipaccess.RuleAllow),
		newIPDeleteCmd(a),
	)
	return cmd
}

func newIPListCmd(a *app) *cobra.Command {
	var (
		ruleType   string
		activeOnly bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List IP rules, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			rules, err := rt.engine.ListIPRules(cmd.Context(), ipaccess.Filter{
				Type:       ipaccess.RuleType(ruleType),
				ActiveOnly: activeOnly,
				Limit:      limit,
			})
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tIP\tTYPE\tACTIVE\tEXPIRES\tREASON")
			for _, r := range rules {
				expires := "never"
				if r.ExpiresAt != nil {
					expires = r.ExpiresAt.UTC().Format(time.RFC3339)
				}
				fmt.Fprintf(tw, "%d\t%s\t%s\t%t\t%s\t%s\n", r.ID, r.IPAddress, r.Type, r.Active, expires, r.Reason)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&ruleType, "type", "", "filter by rule type (BLOCK or ALLOW)")
	cmd.Flags().BoolVar(&activeOnly, "active", false, "only active rules")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum rules to list")
	return cmd
}

func newIPRuleCmd(a *app, use string, ruleType ipaccess.RuleType) *cobra.Command {
	var (
		reason  string
		expires time.Duration
	)
	cmd := &cobra.Command{
		Use:   use + " <ip>",
		Short: fmt.Sprintf("Add an %s rule", ruleType),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			createdBy := "cli"
			req := ipaccess.RuleRequest{
				IPAddress: args[0],
				Type:      ruleType,
				Reason:    reason,
				CreatedBy: &createdBy,
			}
			if expires > 0 {
				at := time.Now().Add(expires)
				req.ExpiresAt = &at
			}
			rule, err := rt.engine.CreateIPRule(cmd.Context(), req)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rule %d: %s %s\n", rule.ID, rule.Type, rule.IPAddress)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the rule")
	cmd.Flags().DurationVar(&expires, "expires", 0, "rule lifetime (0 keeps it until deleted)")
	return cmd
}

func newIPDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete a rule and evict its cache entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid rule id %q", args[0])
			}
			rt, err := a.openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close(a.logger)

			if err := rt.engine.DeleteIPRule(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "rule %d deleted\n", id)
			return nil
		},
	}
}
