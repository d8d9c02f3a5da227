// Command kira is the CLI surface of the Kira core engine.
package main

import (
	"os"
)

func main() {
	os.Exit(run(os.Args[1:]))
}
