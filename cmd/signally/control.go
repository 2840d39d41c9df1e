package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"pkt.systems/signally/internal/appconfig"
	"pkt.systems/signally/schema"
)

type controlFlags struct {
	cfgPath string
	apiURL  string
}

func (f *controlFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.cfgPath, "config", "c", "", "path to config file")
	cmd.Flags().StringVar(&f.apiURL, "api", "", "coordinator API base URL (default from config)")
}

func (f *controlFlags) client() (*apiClient, error) {
	if strings.TrimSpace(f.apiURL) != "" {
		return newAPIClient(f.apiURL), nil
	}
	cfg, err := appconfig.Load(f.cfgPath)
	if err != nil {
		return nil, err
	}
	return newAPIClient(cfg.APIURL()), nil
}

func newStatusCmd() *cobra.Command {
	var flags controlFlags
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show coordinator state, transcript and summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			var resp schema.GetStateResponse
			if err := client.get(cmd.Context(), "/api/state", &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return printState(out, resp)
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the raw state document")
	return cmd
}

func printState(out io.Writer, resp schema.GetStateResponse) error {
	var b strings.Builder
	fmt.Fprintf(&b, "state: %s", resp.State)
	if resp.Details.Message != "" {
		fmt.Fprintf(&b, " (%s)", resp.Details.Message)
	}
	b.WriteString("\n")
	if resp.Session != "" {
		fmt.Fprintf(&b, "session: %s\n", resp.Session)
	}
	fmt.Fprintf(&b, "credential: %t\n", resp.HasCredential)
	fmt.Fprintf(&b, "surfaces: %d\n", len(resp.Surfaces))
	if len(resp.Transcript) > 0 {
		b.WriteString("\ntranscript:\n")
		for _, fragment := range resp.Transcript {
			fmt.Fprintf(&b, "  %s\n", fragment.Text)
		}
	}
	if n := len(resp.Summaries); n > 0 {
		fmt.Fprintf(&b, "\nsummary:\n  %s\n", resp.Summaries[n-1].Text)
	}
	if len(resp.FollowUps) > 0 {
		b.WriteString("\nfollow-up questions:\n")
		for i, q := range resp.FollowUps {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, q)
		}
	}
	_, err := io.WriteString(out, b.String())
	return err
}

func newStartCmd() *cobra.Command {
	var flags controlFlags
	var source string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			var resp schema.StartRecordingResponse
			if err := client.post(cmd.Context(), "/api/recording/start", schema.StartRecordingRequest{Source: source}, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s (session %s)\n", resp.State, resp.Session)
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&source, "source", "", "audio source (Ogg/Opus file, or - for stdin of the server)")
	return cmd
}

func newStopCmd() *cobra.Command {
	var flags controlFlags
	var force bool
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop recording",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			var resp schema.StopRecordingResponse
			if err := client.post(cmd.Context(), "/api/recording/stop", schema.StopRecordingRequest{Force: force}, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), resp.State)
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&force, "force", false, "also stop a connecting or failed session")
	return cmd
}

func newToggleCmd() *cobra.Command {
	var flags controlFlags
	var source string
	cmd := &cobra.Command{
		Use:   "toggle",
		Short: "Stop when recording, start otherwise",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			var resp schema.ToggleRecordingResponse
			if err := client.post(cmd.Context(), "/api/recording/toggle", schema.ToggleRecordingRequest{Source: source}, &resp); err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", resp.Action, resp.State)
			return err
		},
	}
	flags.bind(cmd)
	cmd.Flags().StringVar(&source, "source", "", "audio source used when starting")
	return cmd
}

func newSummarizeCmd() *cobra.Command {
	var flags controlFlags
	cmd := &cobra.Command{
		Use:   "summarize",
		Short: "Summarize the current window and generate follow-up questions",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			var resp schema.RequestSummaryResponse
			if err := client.post(cmd.Context(), "/api/summary", nil, &resp); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if _, err := fmt.Fprintln(out, resp.Summary); err != nil {
				return err
			}
			for i, q := range resp.NewQuestions {
				if _, err := fmt.Fprintf(out, "%d. %s\n", i+1, q); err != nil {
					return err
				}
			}
			return nil
		},
	}
	flags.bind(cmd)
	return cmd
}

func newOpenCmd() *cobra.Command {
	var flags controlFlags
	cmd := &cobra.Command{
		Use:   "open",
		Short: "Focus or launch the popup window",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := flags.client()
			if err != nil {
				return err
			}
			var resp schema.OpenWindowResponse
			if err := client.post(cmd.Context(), "/api/window/open", nil, &resp); err != nil {
				return err
			}
			action := "launched"
			if resp.Focused {
				action = "focused"
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), action)
			return err
		},
	}
	flags.bind(cmd)
	return cmd
}
