package main

import (
	"flag"

	"resilience/internal/app"
)

func main() {
	wait := flag.Duration("wait", 0, "wait up to this long for database targets before the first round")
	flag.Parse()

	application, err := app.New(app.WithWaitTimeout(*wait))
	if err != nil {
		panic(err)
	}
	if err := application.Run(); err != nil {
		panic(err)
	}
}
