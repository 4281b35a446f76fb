package main

import (
	"log"

	"personalization-sync/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		log.Fatal(err)
	}
}
