package agentctl

import (
	"fmt"
	"io"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/tutu-network/agentcore/internal/domain"
)

func init() {
	rootCmd.AddCommand(watchStatusCmd)
}

var watchStatusCmd = &cobra.Command{
	Use:   "watch-status",
	Short: "Interactive REPL for polling ledger and daemon health without reconnecting each time",
	RunE:  runWatchStatus,
}

// runWatchStatus is a small interactive shell: each line is either a
// bare daemon name (dumps its health) or "recall <query>" (searches
// memory), repeated until EOF/Ctrl-D.
func runWatchStatus(cmd *cobra.Command, args []string) error {
	rl, err := readline.New("agentctl> ")
	if err != nil {
		return err
	}
	defer rl.Close()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "quit" || line == "exit" {
			return nil
		}

		fields := strings.Fields(line)
		switch fields[0] {
		case "recall":
			if len(fields) < 2 {
				fmt.Println("usage: recall <query>")
				continue
			}
			client := newDaemonClient(cfg.Agentd.SocketPath)
			var results []recallResult
			body := map[string]any{"query": strings.Join(fields[1:], " "), "limit": 10}
			if err := client.post(cmd.Context(), "/memory/recall", body, &results); err != nil {
				fmt.Println("error:", err)
				continue
			}
			for _, r := range results {
				fmt.Printf("%.3f  %s  %s\n", r.Score, r.Memory.Category, r.Memory.Summary)
			}
		default:
			sock, ok := daemonSockets(cfg)[fields[0]]
			if !ok {
				fmt.Printf("unknown daemon or command %q (try a daemon name or \"recall <query>\")\n", fields[0])
				continue
			}
			client := newDaemonClient(sock)
			var raw map[string]any
			if err := client.get(cmd.Context(), "/health", &raw); err != nil {
				fmt.Println("error:", err)
				continue
			}
			fmt.Println(raw)
		}
	}
}

// recallResult decodes the subset of agentd.RecallResult that the
// REPL prints: the memory record and its score.
type recallResult struct {
	Memory domain.MemoryRecord `json:"memory"`
	Score  float64             `json:"score"`
}
