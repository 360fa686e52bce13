package agentctl

import (
	"fmt"
	"net"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/tutu-network/agentcore/internal/domain"
)

func init() {
	rootCmd.AddCommand(watchCmd)
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Live-tail newly appended ledger events over agentd's websocket stream",
	RunE:  runWatch,
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	dialer := websocket.Dialer{
		NetDial: func(_, _ string) (net.Conn, error) {
			return net.Dial("unix", cfg.Agentd.SocketPath)
		},
	}
	conn, _, err := dialer.Dial("ws://unix/events/log/stream", nil)
	if err != nil {
		return fmt.Errorf("connect stream: %w", err)
	}
	defer conn.Close()

	fmt.Println("watching ledger events, Ctrl-C to stop")
	for {
		var ev domain.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return fmt.Errorf("stream closed: %w", err)
		}
		fmt.Printf("%s  %-24s %-16s %s\n", ev.TS.Format("15:04:05"), ev.Type, ev.Actor, ev.Payload)
	}
}
