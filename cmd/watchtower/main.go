// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"log"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "watchtower",
	Short: "Watchtower decision and allocation engine",
	Long: `Watchtower turns a continuous per-process telemetry stream into
de-duplicated, preference-aware control decisions and maintains the
resource allocation set-point. Collectors push metrics in, corrective
commands flow back out, and observers follow along over WebSocket.`,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the watchtower version",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Println("watchtower " + version)
	},
}

func main() {
	rootCmd.AddCommand(serveCmd, versionCmd)
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}
