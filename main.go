package main

import (
	"context"
	"fmt"
	"os"

	"github.com/AlexanderGrooff/spindle/cmd"
	"github.com/AlexanderGrooff/spindle/pkg/task"
)

func main() {
	if err := cmd.Execute(context.Background(), task.NewRegistry()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
