package cli

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var installCompletion bool

func init() {
	completionCmd.Flags().BoolVar(&installCompletion, "install", false, "write the script under the home directory instead of stdout")
	rootCmd.AddCommand(completionCmd)
}

var completionCmd = &cobra.Command{
	Use:       "completion [bash|zsh|fish]",
	Short:     "Generate shell completion scripts",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{"bash", "zsh", "fish"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if installCompletion {
			home, err := os.UserHomeDir()
			if err != nil {
				return fmt.Errorf("failed to get home directory: %w", err)
			}
			path, err := InstallCompletion(cmd.Root(), args[0], home)
			if err != nil {
				return err
			}
			NewPrinter(cmd.ErrOrStderr()).Success("completion script installed to %s", path)
			return nil
		}
		return GenerateCompletion(cmd.Root(), args[0], cmd.OutOrStdout())
	},
	DisableFlagsInUseLine: true,
}

// GenerateCompletion writes the completion script of root for shell to w.
func GenerateCompletion(root *cobra.Command, shell string, w io.Writer) error {
	switch shell {
	case "bash":
		return root.GenBashCompletionV2(w, true)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	default:
		return fmt.Errorf("unsupported shell: %s (supported: bash, zsh, fish)", shell)
	}
}

// InstallCompletion writes the script to the conventional location under
// home and returns the path.
func InstallCompletion(root *cobra.Command, shell, home string) (string, error) {
	var path string
	switch shell {
	case "bash":
		path = filepath.Join(home, ".bash_completion.d", root.Name())
	case "zsh":
		path = filepath.Join(home, ".zsh", "completion", "_"+root.Name())
	case "fish":
		path = filepath.Join(home, ".config", "fish", "completions", root.Name()+".fish")
	default:
		return "", fmt.Errorf("unsupported shell: %s", shell)
	}

	var buf bytes.Buffer
	if err := GenerateCompletion(root, shell, &buf); err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("failed to create completion directory: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return "", fmt.Errorf("failed to write completion script: %w", err)
	}
	return path, nil
}
