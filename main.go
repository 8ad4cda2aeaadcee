package main

import "github.com/jerome2525/radar-app/cmd"

func main() {
	cmd.Execute()
}
