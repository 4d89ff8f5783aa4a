package main

import "github.com/JPierreXiong/subtitleTK-final-backup-sub001/services/api-gateway/cli"

func main() {
	cli.Execute()
}
