package main

import "github.com/frahmantamala/payment-dashboard/cmd"

func main() {
	cmd.Execute()
}
