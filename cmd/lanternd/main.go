package main

import (
	"github.com/lanternhq/lantern"
)

func main() {
	lantern.New(nil).Run()
}
