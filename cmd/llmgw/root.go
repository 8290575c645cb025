package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/i2y/llmgateway/config"
)

type app struct {
	in          io.Reader
	out, errOut io.Writer

	configPath string
	// buildOpts are appended when assembling a runtime; tests use them to
	// replace the transport and the environment.
	buildOpts []config.BuildOption
}

func newRootCmd(in io.Reader, out, errOut io.Writer, opts ...config.BuildOption) *cobra.Command {
	a := &app{in: in, out: out, errOut: errOut, buildOpts: opts}

	root := &cobra.Command{
		Use:   "llmgw",
		Short: "Route LLM completions across providers",
		Long: `llmgw resolves a model to the providers that serve it, streams the
completion from the first one that answers, and falls back to the next
candidate when a provider fails before producing output.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(errOut)
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default $"+config.EnvConfig+" or the user config directory)")

	root.AddCommand(
		a.completeCmd(),
		a.resolveCmd(),
		a.providersCmd(),
		a.modelsCmd(),
		a.usageCmd(),
		a.versionCmd(),
	)
	return root
}

func (a *app) loadConfig() (*config.Config, error) {
	path := a.configPath
	if path == "" {
		path = config.Path()
	}
	return config.Load(path)
}

// runtime loads the config and assembles the gateway. The caller closes it.
func (a *app) runtime(ctx context.Context) (*config.Runtime, error) {
	cfg, err := a.loadConfig()
	if err != nil {
		return nil, err
	}
	opts := append([]config.BuildOption{config.WithLogger(cfg.Logger(a.errOut))}, a.buildOpts...)
	return cfg.Build(ctx, opts...)
}

func closeRuntime(rt *config.Runtime, errp *error) {
	if err := rt.Close(context.Background()); err != nil && *errp == nil {
		*errp = fmt.Errorf("closing gateway: %w", err)
	}
}

func (a *app) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(a.out, "llmgw %s\n", Version)
			fmt.Fprintf(a.out, "  build:  %s\n", BuildDate)
			fmt.Fprintf(a.out, "  commit: %s\n", GitCommit)
		},
	}
}
