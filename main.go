package main

import "github.com/bandroomhq/settlement/cmd"

func main() {
	cmd.Execute()
}
