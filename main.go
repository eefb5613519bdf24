// gcbridge injects, inspects and simulates the GoatCounter analytics script.
package main

import "github.com/liuxd6825/gcbridge/cmd"

func main() {
	cmd.Execute()
}
