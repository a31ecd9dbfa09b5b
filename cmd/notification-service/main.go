package main

import (
	"os"

	"logistics/internal/constants"
	"logistics/pkg/bootstrap"
)

func main() {
	root := bootstrap.NewRootCommand(constants.ServiceNotification, "Notification Service rendering and sending templated messages", NewApp)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
