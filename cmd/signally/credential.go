package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"pkt.systems/pslog"
	"pkt.systems/signally/internal/appconfig"
	"pkt.systems/signally/internal/persist"
	"pkt.systems/signally/schema"
)

func newCredentialCmd() *cobra.Command {
	var cfgPath string
	var apiURL string
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage the stored OpenAI API key",
	}
	cmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.PersistentFlags().StringVar(&apiURL, "api", "", "coordinator API base URL to notify (default from config)")

	cmd.AddCommand(newCredentialSetCmd(&cfgPath, &apiURL))
	cmd.AddCommand(newCredentialShowCmd(&cfgPath))
	cmd.AddCommand(newCredentialClearCmd(&cfgPath, &apiURL))
	return cmd
}

func openSettings(cmd *cobra.Command, cfgPath string) (appconfig.Config, *persist.Store, error) {
	cfg, err := appconfig.Load(cfgPath)
	if err != nil {
		return appconfig.Config{}, nil, err
	}
	store, err := persist.NewStoreWithLogger(cfg.StateDir, cfg.Settings.KeyStorePath, pslog.Ctx(cmd.Context()))
	if err != nil {
		return appconfig.Config{}, nil, err
	}
	return cfg, store, nil
}

func newCredentialSetCmd(cfgPath, apiURL *string) *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "set",
		Short: "Store the API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openSettings(cmd, *cfgPath)
			if err != nil {
				return err
			}
			raw, err := readSecret(cmd, "OpenAI API key: ", fromStdin)
			if err != nil {
				return err
			}
			key, err := persist.ValidateAPIKey(raw)
			if err != nil {
				return err
			}
			if err := store.Set(schema.SettingOpenAIAPIKey, key); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "API key saved (%s)\n", persist.MaskSecret(key))
			notifyReload(cmd.Context(), resolveAPIURL(*apiURL, cfg))
			return nil
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "from-stdin", false, "read the key from stdin")
	return cmd
}

func newCredentialShowCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored API key, masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, store, err := openSettings(cmd, *cfgPath)
			if err != nil {
				return err
			}
			key, ok, err := store.Get(schema.SettingOpenAIAPIKey)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if !ok || strings.TrimSpace(key) == "" {
				_, err = fmt.Fprintln(out, "no API key configured")
				return err
			}
			_, err = fmt.Fprintln(out, persist.MaskSecret(key))
			return err
		},
	}
}

func newCredentialClearCmd(cfgPath, apiURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Remove the stored API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, store, err := openSettings(cmd, *cfgPath)
			if err != nil {
				return err
			}
			if err := store.Remove(schema.SettingOpenAIAPIKey); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), "API key cleared")
			notifyReload(cmd.Context(), resolveAPIURL(*apiURL, cfg))
			return nil
		},
	}
}

// notifyReload asks a running coordinator to re-read the key. A coordinator
// that is not running picks the key up at startup.
func notifyReload(ctx context.Context, baseURL string) {
	var resp schema.ReloadCredentialResponse
	if err := newAPIClient(baseURL).post(ctx, "/api/credential/reload", nil, &resp); err != nil {
		pslog.Ctx(ctx).Debug("credential reload notify skipped", "url", baseURL, "err", err)
		return
	}
	pslog.Ctx(ctx).Info("credential reload ok", "configured", resp.HasCredential)
}

// readSecret reads one line from stdin, hiding input when stdin is a
// terminal and fromStdin is false.
func readSecret(cmd *cobra.Command, prompt string, fromStdin bool) (string, error) {
	in := cmd.InOrStdin()
	if file, ok := in.(*os.File); ok && !fromStdin && term.IsTerminal(int(file.Fd())) {
		_, _ = fmt.Fprint(cmd.ErrOrStderr(), prompt)
		data, err := term.ReadPassword(int(file.Fd()))
		_, _ = fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(data)), nil
	}
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no input on stdin")
	}
	return line, nil
}
