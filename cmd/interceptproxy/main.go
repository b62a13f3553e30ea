// Command interceptproxy runs the HTTPS-intercepting forward proxy.
package main

import (
	"os"

	"github.com/relayfox/interceptproxy/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
