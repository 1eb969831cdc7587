package main

import (
	"log"

	"coharvest/services/bidpoold"
)

func main() {
	if err := bidpoold.Main(); err != nil {
		log.Fatalf("bidpoold: %v", err)
	}
}
