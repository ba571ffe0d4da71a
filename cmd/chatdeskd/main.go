package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/chatdeskhq/chatdesk/internal/daemon"
	"github.com/chatdeskhq/chatdesk/internal/workspace"
	"go.uber.org/fx"
)

func main() {
	workspaceFlag := flag.String("workspace", "", "workspace name (overrides config default)")
	flag.Parse()

	workspaceName := workspace.Resolve(*workspaceFlag)
	if err := workspace.ValidateName(workspaceName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{WorkspaceName: workspaceName}),
	)

	app.Run()
}
