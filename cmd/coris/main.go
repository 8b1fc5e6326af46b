package main

import "github.com/lecorbeaured/corisapp/cmd/coris/cmd"

func main() {
	cmd.Execute()
}
