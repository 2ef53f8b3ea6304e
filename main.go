package main

import "starbot/cmd"

func main() {
	cmd.Execute()
}
