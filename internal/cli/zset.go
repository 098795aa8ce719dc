package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/forumdb/zset"
)

// ZSetOptions holds flags shared by the zset subcommands.
type ZSetOptions struct {
	*RootOptions
	Desc       bool
	WithScores bool
}

func NewZSetCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ZSetOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "zset",
		Short: "Inspect and edit sorted sets",
	}
	cmd.AddCommand(newZAddCommand(opts))
	cmd.AddCommand(newZRangeCommand(opts))
	cmd.AddCommand(newZCardCommand(opts))
	cmd.AddCommand(newZScoreCommand(opts))
	return cmd
}

// withStore opens the configured backend for one command.
func (o *ZSetOptions) withStore(ctx context.Context, fn func(zset.Store) error) error {
	b, err := o.Config.Backend()
	if err != nil {
		return WrapExitError(ExitCommandError, "bad database backend", err)
	}
	sc := o.Config.Store()
	sc.Logger, sc.Hooks = o.Logger, o.Hooks
	st, err := zset.Open(ctx, b, sc)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()
	return fn(st)
}

func newZAddCommand(opts *ZSetOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add <key> <score> <member>",
		Short: "Add a member or update its score",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			score, err := strconv.ParseFloat(args[1], 64)
			if err != nil {
				return WrapExitError(ExitCommandError, "bad score", err)
			}
			return opts.withStore(cmd.Context(), func(st zset.Store) error {
				if err := st.Add(cmd.Context(), args[0], score, args[2]); err != nil {
					return WrapExitError(ExitFailure, "add failed", err)
				}
				return opts.output(cmd).Success("ok")
			})
		},
	}
}

func newZRangeCommand(opts *ZSetOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "range <key> [start] [stop]",
		Short: "List members by rank; negative indexes count from the end",
		Long: `List members by rank. start and stop default to 0 and -1.

Example:
  forumdb zset range cid:1:tids 0 19 --desc
  forumdb zset range uid:1:posts --withscores -- -5 -1`,
		Args: cobra.RangeArgs(1, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, stop := int64(0), int64(-1)
			var err error
			if len(args) > 1 {
				if start, err = strconv.ParseInt(args[1], 10, 64); err != nil {
					return WrapExitError(ExitCommandError, "bad start", err)
				}
			}
			if len(args) > 2 {
				if stop, err = strconv.ParseInt(args[2], 10, 64); err != nil {
					return WrapExitError(ExitCommandError, "bad stop", err)
				}
			}
			order := zset.Asc
			if opts.Desc {
				order = zset.Desc
			}
			return opts.withStore(cmd.Context(), func(st zset.Store) error {
				ms, err := st.RangeByRank(cmd.Context(), args[0], start, stop, order)
				if err != nil {
					return WrapExitError(ExitFailure, "range failed", err)
				}
				return opts.output(cmd).Success(formatMembers(ms, opts.WithScores, opts.Format))
			})
		},
	}
	cmd.Flags().BoolVar(&opts.Desc, "desc", false, "highest score first")
	cmd.Flags().BoolVar(&opts.WithScores, "withscores", false, "include scores")
	return cmd
}

func formatMembers(ms []zset.Member, withScores bool, format string) any {
	if withScores && format == "json" {
		if ms == nil {
			return []zset.Member{}
		}
		return ms
	}
	out := make([]string, len(ms))
	for i, m := range ms {
		out[i] = m.Value
		if withScores {
			out[i] = fmt.Sprintf("%s %s", m.Value, strconv.FormatFloat(m.Score, 'g', -1, 64))
		}
	}
	return out
}

func newZCardCommand(opts *ZSetOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "card <key>...",
		Short: "Count the members of one or more sets",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(st zset.Store) error {
				n, err := st.Cards(cmd.Context(), args)
				if err != nil {
					return WrapExitError(ExitFailure, "card failed", err)
				}
				if len(n) == 1 {
					return opts.output(cmd).Success(n[0])
				}
				out := make([]any, len(n))
				for i, c := range n {
					out[i] = c
				}
				return opts.output(cmd).Success(out)
			})
		},
	}
}

func newZScoreCommand(opts *ZSetOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "score <key> <member>",
		Short: "Print a member's score",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withStore(cmd.Context(), func(st zset.Store) error {
				s, ok, err := st.Score(cmd.Context(), args[0], args[1])
				if err != nil {
					return WrapExitError(ExitFailure, "score failed", err)
				}
				if !ok {
					return NewExitError(ExitFailure, fmt.Sprintf("%q is not a member of %q", args[1], args[0]))
				}
				return opts.output(cmd).Success(s)
			})
		},
	}
}
