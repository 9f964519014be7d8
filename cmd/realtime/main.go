package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	cmd := &cobra.Command{
		Use:   "realtime",
		Short: "realtime relays mongodb change streams to websocket clients",
	}
	cmd.AddCommand(serveCmd(), validateCmd())
	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
