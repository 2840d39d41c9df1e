package main

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"pkt.systems/pslog"
	"pkt.systems/signally"
	"pkt.systems/signally/internal/appconfig"
	"pkt.systems/signally/internal/tokenproxy"
)

const (
	envUpstreamKey = "OPENAI_API_KEY"
	envPort        = "PORT"
	defaultEnvFile = ".env"
)

func newProxyCmd() *cobra.Command {
	var cfgPath string
	var envFile string
	cmd := &cobra.Command{
		Use:   "proxy",
		Short: "Serve the token proxy that mints ephemeral realtime credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := pslog.Ctx(cmd.Context())
			cfg, err := appconfig.Load(cfgPath)
			if err != nil {
				return err
			}
			proxyCfg, err := proxyConfigFromEnv(cfg.Proxy, envFile)
			if err != nil {
				return err
			}
			if proxyCfg.UpstreamKey == "" {
				logger.Warn("proxy upstream key missing", "env", envUpstreamKey)
			}
			server, err := signally.New(signally.ServerConfig{
				Proxy:            proxyCfg,
				MetricsNamespace: cfg.Metrics.Namespace,
			}, signally.ServerDeps{}, signally.WithProxy())
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), server, logger)
		},
	}
	cmd.Flags().StringVarP(&cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&envFile, "env-file", "", "dotenv file to load (default .env when present)")
	cmd.AddCommand(newProxyHashKeyCmd())
	return cmd
}

// proxyConfigFromEnv loads the dotenv file and applies OPENAI_API_KEY and
// PORT on top of the configured proxy section. Variables already set in the
// environment win over the file.
func proxyConfigFromEnv(cfg appconfig.ProxyConfig, envFile string) (tokenproxy.Config, error) {
	explicit := strings.TrimSpace(envFile) != ""
	if !explicit {
		envFile = defaultEnvFile
	}
	if err := godotenv.Load(envFile); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return tokenproxy.Config{}, fmt.Errorf("load %s: %w", envFile, err)
		}
	}
	if port := strings.TrimSpace(os.Getenv(envPort)); port != "" {
		cfg.Addr = overridePort(cfg.Addr, port)
	}
	return toProxyConfig(cfg, strings.TrimSpace(os.Getenv(envUpstreamKey))), nil
}

func overridePort(addr, port string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, port)
}

func newProxyHashKeyCmd() *cobra.Command {
	var fromStdin bool
	cmd := &cobra.Command{
		Use:   "hash-key",
		Short: "Hash a client key for proxy.client_key_hash",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := readSecret(cmd, "Client key: ", fromStdin)
			if err != nil {
				return err
			}
			hash, err := tokenproxy.HashClientKey(key)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), hash)
			return err
		},
	}
	cmd.Flags().BoolVar(&fromStdin, "from-stdin", false, "read the key from stdin")
	return cmd
}
