package main

import "github.com/ValentinKolb/pcache/cmd"

func main() {
	cmd.Execute()
}
