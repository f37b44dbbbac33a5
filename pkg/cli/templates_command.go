package cli

import (
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/agent-protocol/sandbox-orchestrator/pkg/config"
)

// templatesCommand lists the sandbox templates the agent can provision.
func templatesCommand() *cli.Command {
	return &cli.Command{
		Name:  "templates",
		Usage: "List available sandbox templates",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "templates",
				Usage: "Path to a YAML template catalog",
			},
		},
		Action: func(c *cli.Context) error {
			catalog := config.DefaultCatalog()
			if path := c.String("templates"); path != "" {
				var err error
				catalog, err = config.LoadCatalog(path)
				if err != nil {
					return err
				}
			}

			for _, tmpl := range catalog.List() {
				fmt.Printf("%-12s %s\n", tmpl.ID, tmpl.Name)
				if tmpl.Description != "" {
					fmt.Printf("             %s\n", tmpl.Description)
				}
				fmt.Printf("             image: %s\n", tmpl.BaseImage)
			}
			return nil
		},
	}
}
