// Command mrmsim reads a simulation Scenario JSON from a file argument (or
// stdin), replays the emergency stop operator over it, and writes the
// resulting Log JSON to stdout.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/mrm/emergencystop/internal/sim"
)

func main() {
	var (
		data []byte
		err  error
	)

	if len(os.Args) > 1 {
		data, err = os.ReadFile(os.Args[1])
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error reading input: %v\n", err)
		os.Exit(1)
	}

	result, err := sim.RunJSON(string(data))
	if err != nil {
		fmt.Fprintf(os.Stderr, "simulation error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(result)
}
