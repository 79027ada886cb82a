package main

import "github.com/wormhole-foundation/wormhole-sub007/cmd"

func main() {
	cmd.Execute()
}
