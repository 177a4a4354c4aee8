package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var digestList bool

var digestCmd = &cobra.Command{
	Use:   "digest <directory>",
	Short: "Print the tree digest of a directory",
	Long: `Print the SHA-256 tree digest that staging records for a board directory.

The digest covers every entry's path, kind, permission bits and content or
link target. Symlinks are not followed and .bspstage is left out.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hasher := current.hasher()
		out := cmd.OutOrStdout()

		if digestList {
			entries, err := hasher.Tree(args[0])
			if err != nil {
				return err
			}
			if jsonOutput {
				return outputJSON(out, entries)
			}
			for _, e := range entries {
				switch e.Kind {
				case "file":
					_, _ = fmt.Fprintf(out, "%s %04o %s %s\n", e.Kind, e.Mode, shortDigest(e.Sum), e.Path)
				case "link":
					_, _ = fmt.Fprintf(out, "%s %s -> %s\n", e.Kind, e.Path, e.Sum)
				default:
					_, _ = fmt.Fprintf(out, "%s %s\n", e.Kind, e.Path)
				}
			}
			return nil
		}

		digest, err := hasher.TreeDigest(args[0])
		if err != nil {
			return err
		}
		if jsonOutput {
			return outputJSON(out, map[string]string{"path": args[0], "digest": digest})
		}
		_, _ = fmt.Fprintln(out, digest)
		return nil
	},
}

func init() {
	digestCmd.Flags().BoolVar(&digestList, "list", false, "List the entries the digest covers")
}
