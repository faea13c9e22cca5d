package main

import (
	"os"

	"github.com/rcliao/danmaku-monitor/internal/cli"
)

func main() {
	if err := cli.RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
