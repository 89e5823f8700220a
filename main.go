package main

import "github.com/ValentinKolb/dbRPC/cmd"

func main() {
	cmd.Execute()
}
