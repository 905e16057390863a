package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/boardpin/boardpin/internal/config"
	"github.com/boardpin/boardpin/internal/discovery"
	"github.com/boardpin/boardpin/internal/domain"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the coordinator and board status",
	Long: `Probe the coordination port and, when a coordinator is up, print its
board and workspace snapshot.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(_ *cobra.Command, _ []string) error {
	port, err := config.LoadPort()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	disc := discovery.New(discovery.Config{Port: port, ProbeTimeout: 2 * time.Second})
	if !disc.IsServerAlive(ctx) {
		color.Red("● no coordinator running on port %d", port)
		fmt.Println("  Start one with: boardpin run")
		return nil
	}

	snap, err := fetchSnapshot(ctx, disc.BaseURL())
	if err != nil {
		return err
	}

	color.Green("● coordinator up on port %d", port)
	fmt.Println()

	bold := color.New(color.Bold)
	if len(snap.AllBoards) == 0 {
		fmt.Println("  no boards known")
	} else {
		bold.Println("  Boards")
		for _, b := range snap.AllBoards {
			name := b.Name
			if name == "" {
				name = "(unnamed)"
			}
			fmt.Printf("    %-24s %-20s %d cards\n", b.BoardID, name, b.CardCount)
		}
	}

	fmt.Println()
	if len(snap.ConnectedWorkspaces) == 0 {
		fmt.Println("  no workspaces connected")
	} else {
		bold.Println("  Workspaces")
		for _, w := range snap.ConnectedWorkspaces {
			fmt.Printf("    %-24s %s\n", w.ID, w.RootPath)
		}
	}
	return nil
}

func fetchSnapshot(ctx context.Context, baseURL string) (*domain.StatusSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/status", nil)
	if err != nil {
		return nil, fmt.Errorf("building status request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching status: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching status: unexpected HTTP %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading status response: %w", err)
	}

	var snap domain.StatusSnapshot
	if err := json.Unmarshal(body, &snap); err != nil {
		return nil, fmt.Errorf("decoding status response: %w", err)
	}
	return &snap, nil
}
