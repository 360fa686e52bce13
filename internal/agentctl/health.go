package agentctl

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tutu-network/agentcore/internal/config"
)

// daemonSockets maps a daemon's short name to its control-socket path.
func daemonSockets(cfg config.Config) map[string]string {
	return map[string]string{
		"agentd":   cfg.Agentd.SocketPath,
		"watch":    cfg.Watch.SocketPath,
		"routines": cfg.Routines.SocketPath,
		"mesh":     cfg.Mesh.SocketPath,
		"keyd":     cfg.Keyd.SocketPath,
		"teachd":   cfg.Teachd.SocketPath,
		"mcpd":     cfg.MCPD.SocketPath,
	}
}

func init() {
	rootCmd.AddCommand(healthCmd)
}

var healthCmd = &cobra.Command{
	Use:   "health <daemon>",
	Short: "Dump a daemon's /health response (agentd, watch, routines, mesh, keyd, teachd, mcpd)",
	Args:  cobra.ExactArgs(1),
	RunE:  runHealth,
}

func runHealth(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	sock, ok := daemonSockets(cfg)[args[0]]
	if !ok {
		return fmt.Errorf("unknown daemon %q", args[0])
	}

	client := newDaemonClient(sock)
	var raw map[string]any
	if err := client.get(cmd.Context(), "/health", &raw); err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(raw)
}
