package tui

import (
	"context"
	"errors"

	tea "github.com/charmbracelet/bubbletea"

	"pkt.systems/pslog"
	"pkt.systems/signally/schema"
)

// Run attaches a terminal surface to the coordinator at baseURL and blocks
// until the user quits or the connection drops.
func Run(ctx context.Context, baseURL, source string) error {
	log := pslog.Ctx(ctx)
	client, err := Dial(ctx, baseURL, schema.Surface{Kind: schema.SurfaceTerminal})
	if err != nil {
		log.Warn("tui attach failed", "url", baseURL, "err", err)
		return err
	}
	defer func() { _ = client.Close() }()
	log.Debug("tui attach ok", "url", baseURL)

	program := tea.NewProgram(New(client, source), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		return nil
	}
	return err
}
