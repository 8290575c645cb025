package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/i2y/llmgateway/provider"
	"github.com/i2y/llmgateway/resolver"
)

func (a *app) resolveCmd() *cobra.Command {
	var model, feature, strategy string
	cmd := &cobra.Command{
		Use:   "resolve",
		Short: "Print the candidates a request would try, in order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			s, err := resolver.ParseStrategy(strategy)
			if err != nil {
				return err
			}
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, &err)

			candidates, err := rt.Gateway.Resolve(cmd.Context(), resolver.Query{Model: model, Feature: resolver.Feature(feature)}, s)
			if err != nil {
				return err
			}
			for i, c := range candidates {
				fmt.Fprintf(a.out, "%d. %s\n", i+1, c)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&model, "model", "m", "", "model identifier")
	cmd.Flags().StringVar(&feature, "feature", "", "feature whose default model is used when --model is empty")
	cmd.Flags().StringVar(&strategy, "strategy", "any_available", "candidate strategy: any_available or first_available")
	return cmd
}

func (a *app) providersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List configured providers and whether credentials are available",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) (err error) {
			rt, err := a.runtime(cmd.Context())
			if err != nil {
				return err
			}
			defer closeRuntime(rt, &err)

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tPROTOCOL\tBASE URL\tCREDENTIALS")
			for _, p := range rt.Catalog.Providers() {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", p.ID, p.Protocol, p.BaseURL, a.credentialStatus(cmd, rt.Credentials, p))
			}
			return w.Flush()
		},
	}
}

func (a *app) credentialStatus(cmd *cobra.Command, src provider.CredentialSource, p *provider.Config) string {
	if !p.RequiresCredentials() {
		return "not required"
	}
	creds, err := src.Credentials(cmd.Context(), p.ID)
	switch {
	case err == nil && creds.Usable():
		return "available"
	case err == nil, errors.Is(err, provider.ErrNoCredentials):
		return "missing"
	default:
		return "error: " + err.Error()
	}
}

func (a *app) modelsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List catalog models and the providers serving them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.loadConfig()
			if err != nil {
				return err
			}
			catalog, err := cfg.LoadCatalog()
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tCAPABILITIES\tPROVIDERS")
			for _, m := range catalog.Models() {
				caps := make([]string, len(m.Capabilities))
				for i, c := range m.Capabilities {
					caps[i] = string(c)
				}
				var offered []string
				for _, o := range catalog.Offerings(m.Key) {
					offered = append(offered, o.Model+"@"+o.Provider)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", m.Key, strings.Join(caps, ","), strings.Join(offered, " "))
			}
			return w.Flush()
		},
	}
}
