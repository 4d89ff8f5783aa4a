package main

import "github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/tasksync/cli"

func main() {
	cli.Execute()
}
