// Tempo CLI entry point
//
// Tempo keeps tasks and focus sessions usable offline and syncs queued
// changes with the remote store when the device is online.
package main

import "github.com/jbctechsolutions/tempo/internal/presentation/cli/commands"

func main() {
	commands.Execute()
}
