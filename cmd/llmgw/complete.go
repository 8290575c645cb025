package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/i2y/llmgateway/gateway"
	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
)

type completeFlags struct {
	model       string
	feature     string
	strategy    string
	system      string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	stream      bool
	verbose     bool
}

func (a *app) completeCmd() *cobra.Command {
	var f completeFlags
	cmd := &cobra.Command{
		Use:   "complete [prompt]",
		Short: "Send a prompt and print the completion",
		Long: `Send a prompt and print the completion. The prompt is read from stdin
when no argument is given.

The model is "model@provider" to pin a provider, a bare model key to let
the gateway pick one, or empty to use the feature default.`,
		Example: `  llmgw complete "Summarize RFC 9110 in one line"
  llmgw complete --model claude-sonnet-4-5@anthropic --stream "Write a haiku"
  git diff | llmgw complete --feature commit_message`,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			prompt, err := a.prompt(args)
			if err != nil {
				return err
			}
			strategy, err := resolver.ParseStrategy(f.strategy)
			if err != nil {
				return err
			}

			var opts []gateway.RequestOption
			if f.feature != "" {
				opts = append(opts, gateway.WithFeature(resolver.Feature(f.feature)))
			}
			if f.system != "" {
				opts = append(opts, gateway.WithSystemMessage(f.system))
			}
			if cmd.Flags().Changed("temperature") {
				opts = append(opts, gateway.WithTemperature(f.temperature))
			}
			if f.maxTokens > 0 {
				opts = append(opts, gateway.WithMaxTokens(f.maxTokens))
			}
			req := gateway.CompletionRequest(f.model, prompt, opts...)

			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, &err)

			if f.stream {
				return a.stream(cmd.Context(), rt.Gateway, req, strategy, f)
			}

			result, err := rt.Gateway.Complete(cmd.Context(), req, strategy, f.timeout)
			if err != nil {
				return err
			}
			fmt.Fprintln(a.out, result.Text)
			for _, tc := range result.ToolCalls {
				fmt.Fprintf(a.out, "tool call %s %s(%s)\n", tc.ID, tc.Name, tc.Arguments)
			}
			if f.verbose {
				a.report(result.Served, result.FinishReason, result.Usage, result.Failures)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&f.model, "model", "m", "", "model identifier")
	flags.StringVar(&f.feature, "feature", "", "feature whose default model is used when --model is empty")
	flags.StringVar(&f.strategy, "strategy", "any_available", "candidate strategy: any_available or first_available")
	flags.StringVarP(&f.system, "system", "s", "", "system message")
	flags.Float64Var(&f.temperature, "temperature", 0, "sampling temperature")
	flags.IntVar(&f.maxTokens, "max-tokens", 0, "maximum tokens to generate")
	flags.DurationVar(&f.timeout, "timeout", 0, "completion deadline (default from config)")
	flags.BoolVar(&f.stream, "stream", false, "print text as it arrives")
	flags.BoolVarP(&f.verbose, "verbose", "v", false, "report the serving provider and usage on stderr")
	return cmd
}

func (a *app) prompt(args []string) (string, error) {
	if len(args) > 0 {
		return strings.Join(args, " "), nil
	}
	data, err := io.ReadAll(a.in)
	if err != nil {
		return "", fmt.Errorf("reading prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(data))
	if prompt == "" {
		return "", errors.New("a prompt is required")
	}
	return prompt, nil
}

// stream prints text deltas as they arrive. Error events are not printed;
// the run's error is returned instead.
func (a *app) stream(ctx context.Context, gw *gateway.Gateway, req *provider.Request, s resolver.Strategy, f completeFlags) error {
	if f.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	run := gw.Stream(ctx, req, s)
	var (
		usage  *provider.Usage
		reason provider.FinishReason
	)
	for ev := range run.All() {
		switch ev.Type {
		case provider.EventTextDelta:
			fmt.Fprint(a.out, ev.Text)
		case provider.EventToolCallDelta:
			if ev.ToolCall.Name != "" && ev.ToolCall.ArgumentsDelta == "" {
				fmt.Fprintf(a.out, "\ntool call %s %s", ev.ToolCall.ID, ev.ToolCall.Name)
			}
			fmt.Fprint(a.out, ev.ToolCall.ArgumentsDelta)
		case provider.EventUsage:
			usage = ev.Usage
		case provider.EventFinish:
			reason = ev.FinishReason
		}
	}
	fmt.Fprintln(a.out)
	if err := run.Wait(); err != nil {
		return err
	}
	if f.verbose {
		a.report(run.Served(), reason, usage, run.Failures())
	}
	return nil
}

func (a *app) report(served provider.ResolvedModel, reason provider.FinishReason, usage *provider.Usage, failures []error) {
	for _, err := range failures {
		fmt.Fprintf(a.errOut, "skipped: %v\n", err)
	}
	fmt.Fprintf(a.errOut, "served by %s (finish: %s)\n", served, reason)
	if usage != nil {
		fmt.Fprintf(a.errOut, "tokens: %d prompt, %d completion, %d total\n",
			usage.PromptTokens, usage.CompletionTokens, usage.TotalTokens)
	}
}
