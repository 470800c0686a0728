package main

import "asic_miner/cmd/miner/cmd"

func main() {
	cmd.Execute()
}
