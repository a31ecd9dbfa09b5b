package main

import (
	"os"

	"logistics/internal/constants"
	"logistics/pkg/bootstrap"
)

func main() {
	root := bootstrap.NewRootCommand(constants.ServiceInventory, "Inventory Service reserving stock for orders", NewApp)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
