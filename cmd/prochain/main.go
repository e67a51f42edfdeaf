package main

import (
	"github.com/tonymke/prochain/internal/cli"
	"github.com/tonymke/prochain/internal/metrics"
)

func main() {
	metrics.EmitBuildInfo()
	cli.Execute()
}
