// confcheck parses a plant configuration, reports structural errors and
// prints the canonical form.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/thatsimonsguy/hydronic-controller/internal/config"
)

func main() {
	var (
		configPath = flag.String("config", "/etc/hydronic/plant.conf", "Path to plant configuration file")
		quiet      = flag.Bool("quiet", false, "Suppress the canonical dump, only report errors")
	)
	flag.Parse()

	f, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "confcheck: %v\n", err)
		os.Exit(1)
	}

	// re-parse the dump as a self-check of the canonical form
	dump := f.Dump()
	if _, err := config.Parse(dump); err != nil {
		fmt.Fprintf(os.Stderr, "confcheck: canonical form does not reparse: %v\n", err)
		os.Exit(1)
	}

	if !*quiet {
		fmt.Print(dump)
	}
}
