package main

import "github.com/gregriff/duet/cmd"

func main() {
	cmd.Execute()
}
