package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// locateCommand creates the locate command.
func (c *CLI) locateCommand() *cobra.Command {
	var f sourceFlags

	cmd := &cobra.Command{
		Use:   "locate <root>",
		Short: "List the archives a batch run would package",
		Long: `Print every source archive found under root, one per line, in the
order pack would process them. Nothing is downloaded.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cc, err := c.openCache(ctx, f.noCache)
			if err != nil {
				return err
			}
			defer cc.Close()

			out := cmd.OutOrStdout()
			n := 0
			for src, err := range c.newLocator(args[0], f, cc).Locate(ctx) {
				if err != nil {
					return err
				}
				fmt.Fprintln(out, src)
				n++
			}
			loggerFromContext(ctx).Info("located sources", "root", args[0], "count", n)
			return nil
		},
	}

	f.register(cmd)
	return cmd
}
