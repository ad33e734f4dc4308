package main

import "github.com/MateoOdt/DigitalMedia2/cmd/wallet-cli/cmd"

func main() {
	cmd.Execute()
}
