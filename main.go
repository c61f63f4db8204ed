package main

import "github.com/andresmejia3/triggercut/cmd"

func main() {
	cmd.Execute()
}
