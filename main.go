// main.go
package main

import "github.com/markb/sbrealtime/cmd"

func main() {
	cmd.Execute()
}
