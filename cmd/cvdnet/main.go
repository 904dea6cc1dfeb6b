package main

import (
	"context"
	"os"

	"github.com/containerd/log"
)

func main() {
	if err := newApp().run(context.Background(), os.Args[1:]); err != nil {
		log.L.WithError(err).Error("cvdnet failed")
		os.Exit(1)
	}
}
