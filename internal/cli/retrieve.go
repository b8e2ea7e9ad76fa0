package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/memu-go/internal/models"
)

var (
	retrieveUserID  string
	retrieveQueries []string
	retrieveLimit   int
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve",
	Short: "Find memory relevant to one or more queries",
	Long: `Retrieve memory items ranked by similarity to the queries.

Without --user-id every owner's memory is searched.

Examples:
  memu retrieve --user-id alice --query "what pets does alice like"
  memu retrieve -q cats -q dogs --limit 5`,
	Args: cobra.NoArgs,
	RunE: runRetrieve,
}

func init() {
	retrieveCmd.Flags().StringVarP(&retrieveUserID, "user-id", "u", "", "restrict to one owner")
	retrieveCmd.Flags().StringArrayVarP(&retrieveQueries, "query", "q", nil, "query text (repeatable)")
	retrieveCmd.Flags().IntVarP(&retrieveLimit, "limit", "n", 0, "max results (default server limit)")
	_ = retrieveCmd.MarkFlagRequired("query")
}

func runRetrieve(cmd *cobra.Command, args []string) error {
	res, err := apiClient.Retrieve(context.Background(), retrieveQueries, retrieveUserID, retrieveLimit)
	if err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	printRetrievalResult(cmd.OutOrStdout(), res)
	return nil
}

func printRetrievalResult(w io.Writer, res *models.RetrievalResult) {
	t := themeFor(w)
	if len(res.Items) == 0 {
		fmt.Fprintln(w, "No results found.")
		return
	}

	fmt.Fprintf(w, "Found %d results:\n\n", len(res.Items))
	for i, it := range res.Items {
		fmt.Fprintf(w, "%d. %s %s %s\n", i+1,
			t.scoreStyle().Render(fmt.Sprintf("%.3f", it.Score)),
			t.categoryStyle().Render("["+it.Category+"]"),
			it.Content)
		if verbose {
			owner := it.Owner
			if owner == "" {
				owner = "-"
			}
			fmt.Fprintf(w, "   %s\n", t.hintStyle().Render(fmt.Sprintf("user: %s, conversation: %s", owner, it.ConversationID)))
		}
	}
	printCategories(w, res.Categories)
}
