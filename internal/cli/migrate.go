package cli

import (
	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/forumdb/zset/sqlstore"
)

func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the sorted-set schema",
		Long: `Apply the relational schema to database.path. Safe to run repeatedly.

Example:
  forumdb migrate -c forumdb.yaml
  FORUMDB_DATABASE_PATH=/tmp/forum.db forumdb migrate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := rootOpts.Config.Store()
			sc.Logger, sc.Hooks = rootOpts.Logger, rootOpts.Hooks
			st, err := sqlstore.Open(cmd.Context(), sc)
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to open database", err)
			}
			if err := st.Close(); err != nil {
				return WrapExitError(ExitFailure, "failed to close database", err)
			}
			return rootOpts.output(cmd).Success("schema applied to " + sc.Path)
		},
	}
}
