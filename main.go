// The main package for the ngamon executable.
package main

import (
	"github.com/Alexzz96/nga-monitor/cmd"
)

func main() {
	cmd.Execute()
}
