package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/unkn0wn-root/forumdb"
	"github.com/unkn0wn-root/forumdb/cache"
)

// CacheOptions holds flags for the cache subcommands.
type CacheOptions struct {
	*RootOptions
	Kind    string
	Timeout time.Duration
}

func NewCacheCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CacheOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Broadcast cache invalidations to every process",
		Long: `Publish del/reset events on the configured bus. Every process holding a
cache with the same name and kind evicts.

Example:
  forumdb cache del post pid:1 pid:2 -c forumdb.yaml
  forumdb cache reset user --kind ttlCache`,
	}
	cmd.PersistentFlags().StringVar(&opts.Kind, "kind", cache.KindLRU, "cache kind (lruCache|ttlCache)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 5*time.Second, "how long to wait for the bus")

	cmd.AddCommand(&cobra.Command{
		Use:   "del <name> <key>...",
		Short: "Evict keys from a named cache everywhere",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCache(cmd.Context(), args[0], func(c cache.Cache[[]byte]) {
				c.Del(args[1:]...)
			}, cmd)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "reset <name>",
		Short: "Clear a named cache everywhere",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withCache(cmd.Context(), args[0], func(c cache.Cache[[]byte]) {
				c.Reset()
			}, cmd)
		},
	})
	return cmd
}

// withCache joins the bus with an empty facade of the named cache and runs
// fn on it, so the facade's own broadcast path does the publishing.
func (o *CacheOptions) withCache(ctx context.Context, name string, fn func(cache.Cache[[]byte]), cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(ctx, o.Timeout)
	defer cancel()

	dep, err := forumdb.Init(ctx, o.Config, forumdb.Options{Logger: o.Logger, Hooks: o.Hooks, NoStore: true})
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to join the bus", err)
	}
	defer dep.Close()
	if w, ok := dep.Bus.(interface{ WaitReady(context.Context) error }); ok {
		if err := w.WaitReady(ctx); err != nil {
			return WrapExitError(ExitCommandError, "bus not ready", err)
		}
	}

	var c cache.Cache[[]byte]
	switch o.Kind {
	case cache.KindLRU:
		c = forumdb.NewLRU(dep, cache.LRUOptions[[]byte]{Name: name})
	case cache.KindTTL:
		c = forumdb.NewTTL[[]byte](dep, cache.TTLOptions{Name: name})
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("unknown cache kind %q", o.Kind))
	}
	fn(c)
	return o.output(cmd).Success(fmt.Sprintf("published on %s (%s)", name, dep.Topology))
}
