// Command sttstream streams audio to Google Cloud Speech-to-Text v2.
//
// Usage:
//
//	sttstream [flags] <command>
//
// Commands:
//
//	stream     - stream a file (or stdin) through a duplex session
//	recognize  - one synchronous request with inline audio
//	serve      - websocket gateway, one session per connection
package main

import (
	"fmt"
	"os"

	"github.com/harunnryd/sttstream/cmd/sttstream/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
