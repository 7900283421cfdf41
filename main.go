// The main package for the price-tracker executable.
package main

import (
	"github.com/JakeFAU/realtime-price-tracker/cmd"
)

func main() {
	cmd.Execute()
}
