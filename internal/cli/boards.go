package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// boardInfo is the JSON shape of one boards entry.
type boardInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Dir         string `json:"dir"`
	Steps       int    `json:"steps"`
}

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "List the boards in the pipeline file",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := current.loadPipeline()
		if err != nil {
			return err
		}

		boards := make([]boardInfo, 0, len(p.Boards))
		for _, name := range p.BoardNames() {
			b := p.Boards[name]
			dir := b.Dir
			if dir == "" {
				dir = "${BSP_ROOT}/" + name
			}
			boards = append(boards, boardInfo{
				Name:        name,
				Description: b.Description,
				Dir:         dir,
				Steps:       len(b.Steps),
			})
		}

		out := cmd.OutOrStdout()
		if jsonOutput {
			return outputJSON(out, boards)
		}

		PrintSection(out, fmt.Sprintf("Boards (%s)", p.Path))
		rows := make([][]string, 0, len(boards))
		for _, b := range boards {
			rows = append(rows, []string{b.Name, fmt.Sprintf("%d", b.Steps), b.Dir, b.Description})
		}
		PrintTable(out, []string{"Board", "Steps", "Dir", "Description"}, rows)
		return nil
	},
}
