// The main package for the cls-crawler executable.
package main

import (
	_ "time/tzdata" // embedded zoneinfo for site.timezone

	"github.com/JakeFAU/cls-news-crawler/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
