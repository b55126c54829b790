// The main package for the marketplace-scraper executable.
package main

import (
	"os"

	"github.com/JakeFAU/marketplace-scraper/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
