package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	healthuc "github.com/kailas-cloud/fedsearch/internal/usecase/health"
)

var (
	okColor     = lipgloss.Color("#50FA7B")
	dangerColor = lipgloss.Color("#FF5555")
	mutedColor  = lipgloss.Color("#6272A4")
	fgColor     = lipgloss.Color("#F8F8F2")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#8BE9FD")).Padding(0, 1)
	rowStyle    = lipgloss.NewStyle().Foreground(fgColor).Padding(0, 1)
)

func peersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "peers",
		Short: "Inspect configured peer servers",
	}
	cmd.AddCommand(peersListCmd(), peersCheckCmd())
	return cmd
}

func peersListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List peers in fan-out order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			registry, err := cfg.Registry()
			if err != nil {
				return err
			}

			t := newTable("NAME", "BASE URL", "PRIORITY")
			t.Row("primary", cfg.Primary.BaseURL, "-")
			for _, p := range registry.Peers() {
				t.Row(p.Name(), p.BaseURL(), strconv.Itoa(p.Priority()))
			}
			fmt.Fprintln(cmd.OutOrStdout(), t.Render())
			return nil
		},
	}
}

func peersCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check availability of the primary and every peer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			registry, err := cfg.Registry()
			if err != nil {
				return err
			}

			client := newFHIRClient(cfg, zap.NewNop())
			report := healthuc.New(client, cfg.Primary.BaseURL, registry.Peers()).
				WithTimeout(cfg.Federation.PeerTimeout()).
				Check(context.Background())

			fmt.Fprintln(cmd.OutOrStdout(), renderReport(cfg.Primary.BaseURL, registry.Peers(), report))
			if report.Status == healthuc.Unhealthy {
				return fmt.Errorf("primary server is unavailable")
			}
			return nil
		},
	}
}

func renderReport(primaryURL string, peers []peer.Endpoint, report healthuc.Report) string {
	t := newTable("NAME", "BASE URL", "STATUS")
	t.Row("primary", primaryURL, statusCell(report.Checks[healthuc.PrimaryCheck]))
	for _, p := range peers {
		t.Row(p.Name(), p.BaseURL(), statusCell(report.Checks[healthuc.PeerCheck(p.Name())]))
	}

	summary := lipgloss.NewStyle().Foreground(mutedColor).Render("overall: ") +
		statusCell(healthuc.CheckResult(report.Status))
	return lipgloss.JoinVertical(lipgloss.Left, t.Render(), summary)
}

func statusCell(res healthuc.CheckResult) string {
	color := okColor
	if res != healthuc.CheckOK {
		color = dangerColor
	}
	return lipgloss.NewStyle().Foreground(color).Render(string(res))
}

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(mutedColor)).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return rowStyle
		}).
		Headers(headers...)
}
