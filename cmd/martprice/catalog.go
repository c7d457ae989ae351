package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/aluiziolira/martprice/config"
)

func catalogCommand() *cli.Command {
	return &cli.Command{
		Name:  "catalog",
		Usage: "Validate the catalog and print every search URL an ingest run would visit",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "catalog",
				Usage:   "Catalog YAML file (defaults to the embedded catalog)",
				EnvVars: []string{"MARTPRICE_CATALOG"},
			},
		},
		Action: func(c *cli.Context) error {
			catalog, err := config.LoadCatalog(c.String("catalog"))
			if err != nil {
				return cli.Exit(fmt.Sprintf("load catalog: %v", err), 1)
			}

			fmt.Printf("catalog version %d: %d marts x %d items\n\n", catalog.Version, len(catalog.Marts), len(catalog.Items))
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEYWORD\tMART\tURL")
			for _, item := range catalog.Items {
				for _, mart := range catalog.Marts {
					fmt.Fprintf(w, "%s\t%s\t%s\n", item.Keyword, mart.Name, mart.BuildURL(item.Query))
				}
			}
			return w.Flush()
		},
	}
}
