package main

import "github.com/SuryaSriramD/CodeAgentTool/cmd"

func main() {
	cmd.Execute()
}
