package main

import (
	"context"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/clipvault/internal/config"
	"github.com/forest6511/clipvault/internal/logging"
	"github.com/forest6511/clipvault/pkg/audit"
	"github.com/forest6511/clipvault/pkg/query"
)

// EnvCompletionEnabled opts in to completing item refs from the vault.
const EnvCompletionEnabled = config.EnvPrefix + "COMPLETION_ENABLED"

// completionLimit is how many recent items are offered.
const completionLimit = 50

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate completion script for your shell",
	Long: `To load completions:

Bash:
  $ source <(clipvault completion bash)

  # To load for each session (Linux):
  $ clipvault completion bash > ~/.local/share/bash-completion/completions/clipvault

  # To load for each session (macOS with Homebrew):
  $ clipvault completion bash > $(brew --prefix)/etc/bash_completion.d/clipvault

Zsh:
  # Ensure completion is enabled:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  # Generate completion:
  $ clipvault completion zsh > ~/.zsh/completions/_clipvault
  # (create ~/.zsh/completions if needed, add to fpath in .zshrc)

Fish:
  $ clipvault completion fish > ~/.config/fish/completions/clipvault.fish

PowerShell:
  PS> clipvault completion powershell >> $PROFILE

Dynamic completion (item refs for delete, update and copy):
  Set ` + EnvCompletionEnabled + `=1 to complete content hashes of recent items.
  Only an active session is used; completion never prompts.
`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		switch args[0] {
		case "bash":
			return cmd.Root().GenBashCompletionV2(out, true)
		case "zsh":
			return cmd.Root().GenZshCompletion(out)
		case "fish":
			return cmd.Root().GenFishCompletion(out, true)
		case "powershell":
			return cmd.Root().GenPowerShellCompletionWithDesc(out)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(completionCmd)

	deleteCmd.ValidArgsFunction = completeRefs
	updateCmd.ValidArgsFunction = completeRefs
	copyCmd.ValidArgsFunction = completeRefs
}

// completeRefs offers content hashes of recent items, each described by a
// preview. It is opt-in and returns nothing unless a session is active.
func completeRefs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 || os.Getenv(EnvCompletionEnabled) != "1" {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	refs, err := refsForCompletion(ctx, toComplete)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return refs, cobra.ShellCompDirectiveNoFileComp
}

// refsForCompletion runs outside PersistentPreRunE, so it resolves the
// configuration itself and logs nowhere: stdout belongs to the shell.
func refsForCompletion(ctx context.Context, prefix string) ([]string, error) {
	loaded, err := config.Load(config.LoadOptions{File: configFile})
	if err != nil {
		return nil, err
	}
	if flagVault != "" {
		loaded.VaultPath = config.ExpandHome(flagVault)
	}
	cfg = loaded
	logger = logging.Discard()

	v, err := newSessions(audit.SourceCLI).OpenVault(ctx)
	if err != nil {
		// Locked or missing: nothing to offer.
		return nil, nil
	}
	defer v.Close()

	items, _, err := v.List(ctx, completionLimit, nil)
	if err != nil {
		return nil, err
	}
	prefix = strings.ToLower(prefix)
	var refs []string
	for _, it := range items {
		if strings.HasPrefix(it.ContentHash, prefix) {
			refs = append(refs, it.ContentHash+"\t"+preview(query.ToResult(it)))
		}
	}
	return refs, nil
}
