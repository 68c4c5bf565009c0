package main

import "payment-core/cmd/payment-cli/cmd"

func main() {
	cmd.Execute()
}
