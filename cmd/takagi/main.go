// Package main is the entry point for the Takagi and Snowflake services.
package main

import (
	"os"

	"github.com/celsiusnarhwal/takagi/cmd/takagi/app"
	"github.com/celsiusnarhwal/takagi/pkg/logger"
)

func main() {
	// Initialize the logger
	logger.Initialize()

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
