package cli

import (
	"github.com/spf13/cobra"
)

// completionCommand prints shell completion scripts.
func (c *CLI) completionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for cratepack.

To load completions:

Bash:
  $ source <(cratepack completion bash)

  # To load completions for each session, execute once:
  $ cratepack completion bash > /etc/bash_completion.d/cratepack

Zsh:
  $ cratepack completion zsh > "${fpath[1]}/_cratepack"

Fish:
  $ cratepack completion fish | source

  # To load completions for each session, execute once:
  $ cratepack completion fish > ~/.config/fish/completions/cratepack.fish

PowerShell:
  PS> cratepack completion powershell | Out-String | Invoke-Expression

`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		// Generating scripts does not need the config file.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			switch args[0] {
			case "bash":
				return cmd.Root().GenBashCompletion(cmd.OutOrStdout())
			case "zsh":
				return cmd.Root().GenZshCompletion(cmd.OutOrStdout())
			case "fish":
				return cmd.Root().GenFishCompletion(cmd.OutOrStdout(), true)
			case "powershell":
				return cmd.Root().GenPowerShellCompletionWithDesc(cmd.OutOrStdout())
			}
			return nil
		},
	}

	return cmd
}
