package main

import (
	"os"

	"github.com/guseggert/sidecar/internal/stubchild"
)

func main() {
	os.Exit(stubchild.Main(os.Args))
}
