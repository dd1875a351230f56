// Command tasks drives confidential compute tasks from submission to a
// decrypted result.
package main

import "github.com/R3E-Network/confidential_tasks/internal/cli"

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	cli.Execute(version)
}
