package main

import (
	node "github.com/pinmesh/pinmesh/cmd/node"
)

func main() {
	node.Execute()
}
