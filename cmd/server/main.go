package main

import (
	"github.com/auralog/voicejournal/internal/bootstrap"
)

func main() {
	bootstrap.Run()
}
