// ports.go implements "amlburn ports": list candidate serial devices.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/amlburn/internal/serialdev"
)

var portsCmd = &cobra.Command{
	Use:   "ports",
	Short: "List candidate serial ports",
	RunE:  runPorts,
}

func runPorts(cmd *cobra.Command, args []string) error {
	ports, err := serialdev.List()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Println("no serial ports found")
		return nil
	}
	for _, p := range ports {
		fmt.Println(p)
	}
	return nil
}
