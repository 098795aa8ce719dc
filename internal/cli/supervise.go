package cli

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/forumdb/log"
	"github.com/unkn0wn-root/forumdb/pubsub"
)

// SuperviseOptions holds flags for the supervise command.
type SuperviseOptions struct {
	*RootOptions
	Workers int
	Grace   time.Duration
}

func NewSuperviseCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SuperviseOptions{RootOptions: rootOpts}
	cmd := &cobra.Command{
		Use:   "supervise -n N -- <command> [args...]",
		Short: "Run N workers as a single-host cluster",
		Long: `Start N copies of a command, each with a pipe to this process on fds 3
and 4 (FORUMDB_IPC_FDS). Every pub/sub frame a worker writes is relayed to
all workers. The first worker to fail stops the others.

Example:
  forumdb supervise -n 4 -- ./forum-server --port 4567`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Workers < 1 {
				return NewExitError(ExitCommandError, fmt.Sprintf("need at least one worker, got %d", opts.Workers))
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := opts.run(ctx, args); err != nil {
				return WrapExitError(ExitFailure, "worker failed", err)
			}
			return opts.output(cmd).Success(fmt.Sprintf("%d workers exited", opts.Workers))
		},
	}
	cmd.Flags().IntVarP(&opts.Workers, "workers", "n", 2, "number of worker processes")
	cmd.Flags().DurationVar(&opts.Grace, "grace", 10*time.Second, "time a worker gets to exit after an interrupt")
	return cmd
}

func (o *SuperviseOptions) run(ctx context.Context, args []string) error {
	hub := pubsub.NewHub(pubsub.HubOptions{Logger: o.Logger})
	defer hub.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < o.Workers; i++ {
		name := fmt.Sprintf("worker-%d", i)
		cmd, err := o.spawn(ctx, hub, name, args)
		if err != nil {
			cancel()
			_ = g.Wait()
			return err
		}
		g.Go(func() error {
			err := cmd.Wait()
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			o.Logger.Info("worker exited", log.Fields{"worker": name, "err": err})
			return nil
		})
	}
	return g.Wait()
}

// spawn starts one worker. The child reads on fd 3 and writes on fd 4; the
// parent keeps the opposite ends and attaches them to the hub.
func (o *SuperviseOptions) spawn(ctx context.Context, hub *pubsub.Hub, name string, args []string) (*exec.Cmd, error) {
	childR, parentW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("%s: pipe: %w", name, err)
	}
	parentR, childW, err := os.Pipe()
	if err != nil {
		_ = childR.Close()
		_ = parentW.Close()
		return nil, fmt.Errorf("%s: pipe: %w", name, err)
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	cmd.ExtraFiles = []*os.File{childR, childW}
	cmd.Env = append(os.Environ(),
		pubsub.EnvIPCFDs+"=3,4",
		"FORUMDB_CLUSTER=true",
		"FORUMDB_SINGLE_HOST_CLUSTER=true",
	)
	cmd.Cancel = func() error { return cmd.Process.Signal(os.Interrupt) }
	cmd.WaitDelay = o.Grace

	err = cmd.Start()
	_ = childR.Close()
	_ = childW.Close()
	if err != nil {
		_ = parentR.Close()
		_ = parentW.Close()
		return nil, fmt.Errorf("%s: start: %w", name, err)
	}
	hub.Attach(name, pubsub.PipeChannel(parentR, parentW))
	o.Logger.Info("worker started", log.Fields{"worker": name, "pid": cmd.Process.Pid})
	return cmd, nil
}
