package main

import "github.com/evocrm/wabridge/cmd"

func main() {
	cmd.Execute()
}
