package main

import (
	"log"

	"github.com/cyp0633/libremind/internal/commands"
)

func main() {
	if err := commands.New().Execute(); err != nil {
		log.Fatalf("remindctl: %v", err)
	}
}
