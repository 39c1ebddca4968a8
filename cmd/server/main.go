// Package main implements the paygate binary: the payment-gated task
// gateway, its queue workers and the sync scheduler, plus the database
// migration commands.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
