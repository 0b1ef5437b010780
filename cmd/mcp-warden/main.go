package main

import "github.com/wardenlabs/mcp-warden/cmd/mcp-warden/cmd"

func main() {
	cmd.Execute()
}
