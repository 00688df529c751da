package main

import (
	"fmt"

	"github.com/hybriddns/eventfabric/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
