package main

import "github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/worker/cli"

func main() {
	cli.Execute()
}
