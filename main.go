// Package main starts the dispatch service CLI.
//
// @Title Rescue Dispatch API
// @Version 0.1.0
// @Description Reservation, ER approval and tracking of unit dispatches for reported incidents.
// @Server http://localhost:8080 Local development
package main

import (
	"os"

	"rescue/dispatch/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
