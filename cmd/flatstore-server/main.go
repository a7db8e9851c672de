package main

import "github.com/oshokin/flatstore/cmd/flatstore-server/cmd"

func main() {
	cmd.Execute()
}
