package main

import (
	"os"

	"logistics/internal/constants"
	"logistics/pkg/bootstrap"
)

func main() {
	root := bootstrap.NewRootCommand(constants.ServiceTracking, "Tracking Service managing shipments", NewApp)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
