package main

import (
	"cnpj-relay-go/cmd/cnpj-relay/cli"
)

var (
	// Version info (set by ldflags during build)
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	cli.SetVersion(version, buildTime, gitCommit)
	cli.Execute()
}
