// Command gears runs story-defined rules against Shortcut webhooks and the calendar.
package main

import (
	"context"
	"os"

	"github.com/solatis/gears/cmd/gears/cmd"
)

func main() {
	if cmd.Execute(context.Background()) != nil {
		os.Exit(1)
	}
}
