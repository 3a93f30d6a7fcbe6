package main

import "github.com/lunixbochs/elfload/go/cmd"

func main() { cmd.Main() }
