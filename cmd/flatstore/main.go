package main

import "github.com/oshokin/flatstore/cmd/flatstore/cmd"

func main() {
	cmd.Execute()
}
