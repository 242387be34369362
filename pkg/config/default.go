// Global isolab config.
package config

import "time"

// Name of the harness.
const DBName = "isolab"

// Prompt printed by REPL.
const Prompt = DBName + "> "

// Name of the table every schedule runs against.
const TableName = "transaction_test"

// Longest name a row may hold (VARCHAR(50)).
const MaxNameLength = 50

// How long a statement may wait on a row lock before it is cancelled.
const DefaultLockTimeout = 2 * time.Second

// Name of the trace file written by the demo driver.
const DefaultTraceFile = "data/isolab.trace"

// Return prompt if requested, else "".
func GetPrompt(flag bool) string {
	if flag {
		return Prompt
	}
	return ""
}
