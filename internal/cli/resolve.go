package cli

import (
	"github.com/spf13/cobra"

	"cost-anomaly-engine/internal/app"
)

var (
	actor          string
	resolveNote    string
	resolveDismiss bool
)

var investigateCmd = &cobra.Command{
	Use:   "investigate <anomaly-id>",
	Short: "Mark an open anomaly as under investigation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Investigate(cmd.Context(), app.TransitionOptions{ID: args[0], Actor: actor})
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <anomaly-id>",
	Short: "Resolve an open or investigating anomaly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := app.TransitionOptions{ID: args[0], Actor: actor, Note: resolveNote}
		return getApp().Resolve(cmd.Context(), opts, resolveDismiss)
	},
}

var reopenCmd = &cobra.Command{
	Use:   "reopen <anomaly-id>",
	Short: "Reopen a resolved anomaly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Reopen(cmd.Context(), app.TransitionOptions{ID: args[0], Actor: actor})
	},
}

func init() {
	for _, cmd := range []*cobra.Command{investigateCmd, resolveCmd, reopenCmd} {
		cmd.Flags().StringVar(&actor, "by", "", "Who is making the change")
		_ = cmd.MarkFlagRequired("by")
	}
	resolveCmd.Flags().StringVar(&resolveNote, "note", "", "Resolution note")
	resolveCmd.Flags().BoolVar(&resolveDismiss, "dismiss", false, "Resolve as expected spend")
}
