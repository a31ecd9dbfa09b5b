package main

import (
	"os"

	"logistics/internal/constants"
	"logistics/pkg/bootstrap"
)

func main() {
	root := bootstrap.NewRootCommand(constants.ServiceOrder, "Order Service for the logistics platform", NewApp)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
