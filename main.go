package main

import (
	"log"

	"agentvcs/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		log.Fatalf("agentvcs: %v", err)
	}
}
