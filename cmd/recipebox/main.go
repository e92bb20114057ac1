package main

import "github.com/jonwraymond/recipebox/cmd"

func main() {
	cmd.Execute()
}
