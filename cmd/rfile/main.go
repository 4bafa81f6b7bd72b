package main

import "github.com/r-file/rfile/internal/client/cmd"

func main() {
	cmd.Execute()
}
