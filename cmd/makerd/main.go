package main

import (
	"fmt"

	"github.com/binaryswap/coinswap/makerd"
)

func main() {
	cfg := makerd.RPCConfig{}
	if err := makerd.Run(cfg); err != nil {
		fmt.Println(err)
	}
}
