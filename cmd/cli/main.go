package main

import (
	"fmt"
	"os"

	"github.com/crucial707/chaos-scheduler/cmd/cli/auth"
	"github.com/crucial707/chaos-scheduler/cmd/cli/experiments"
	"github.com/crucial707/chaos-scheduler/cmd/cli/root"
	"github.com/crucial707/chaos-scheduler/cmd/cli/runs"
	"github.com/crucial707/chaos-scheduler/cmd/cli/targets"
)

func main() {
	rootCmd := root.GetRoot()
	auth.InitAuth(rootCmd)
	targets.InitTargets(rootCmd)
	experiments.InitExperiments(rootCmd)
	runs.InitRuns(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
