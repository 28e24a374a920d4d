package main

import "cost-anomaly-engine/internal/cli"

func main() {
	cli.Execute()
}
