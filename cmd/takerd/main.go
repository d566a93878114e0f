package main

import (
	"fmt"

	"github.com/binaryswap/coinswap/takerd"
)

func main() {
	cfg := takerd.RPCConfig{}
	if err := takerd.Run(cfg); err != nil {
		fmt.Println(err)
	}
}
