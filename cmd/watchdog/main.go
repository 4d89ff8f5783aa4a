package main

import "github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/watchdog/cli"

func main() {
	cli.Execute()
}
