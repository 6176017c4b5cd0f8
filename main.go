package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/jwiedeman/N64Soul/cmd"
)

func main() {
	cobra.CheckErr(cmd.NewCLI().ExecuteContext(context.Background()))
}
