// Package main is the entry point for rsync-system-backup.
package main

import (
	"os"
)

func main() {
	os.Exit(Execute())
}
