// Command arbiter reviews batches of code-suggestion outputs. It ingests
// CSV comparison batches and JSON-mode suggestion documents, serves them
// over HTTP or in a terminal UI, and exports the recorded decisions.
package main

import (
	"fmt"
	"os"
)

func main() {
	a := newApp()
	err := newRootCmd(a).Execute()
	a.teardown()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
