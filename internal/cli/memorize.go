package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/raphaelgruber/memu-go/internal/client"
	"github.com/raphaelgruber/memu-go/internal/models"
)

var (
	memorizeUserID string
	memorizeInput  string
)

var memorizeCmd = &cobra.Command{
	Use:   "memorize",
	Short: "Store a conversation and extract memory from it",
	Long: `Send a conversation to the server for storage and memory extraction.

--input takes a JSON array of messages, or @file to read one from disk.
Each message has "content" and optionally "role" (default user) and
"created_at" (default now, formatted 2006-01-02 15:04:05).

Examples:
  memu memorize --user-id alice --input '[{"content":"I like cats"}]'
  memu memorize --user-id alice --input @conversation.json`,
	Args: cobra.NoArgs,
	RunE: runMemorize,
}

func init() {
	memorizeCmd.Flags().StringVarP(&memorizeUserID, "user-id", "u", "", "owner of the conversation")
	memorizeCmd.Flags().StringVarP(&memorizeInput, "input", "i", "", "JSON array of messages, or @file")
	_ = memorizeCmd.MarkFlagRequired("input")
}

func runMemorize(cmd *cobra.Command, args []string) error {
	input, err := readInput(memorizeInput)
	if err != nil {
		return err
	}
	rec, err := client.BuildConversation(memorizeUserID, input, time.Now())
	if err != nil {
		return err
	}

	res, err := apiClient.Memorize(context.Background(), rec)
	if err != nil {
		return fmt.Errorf("memorize: %w", err)
	}
	printMemorizeResult(cmd.OutOrStdout(), res)
	return nil
}

func printMemorizeResult(w io.Writer, res *models.MemorizeResult) {
	t := themeFor(w)
	fmt.Fprintf(w, "%s %s\n", t.successStyle().Render("Stored conversation"), res.ConversationID)
	if res.Resource.Caption != "" {
		fmt.Fprintf(w, "Caption: %s\n", res.Resource.Caption)
	}

	if len(res.Items) == 0 {
		fmt.Fprintln(w, t.hintStyle().Render("No memory items extracted."))
		return
	}
	fmt.Fprintf(w, "\n%s\n", t.titleStyle().Render(fmt.Sprintf("Items (%d)", len(res.Items))))
	for i, it := range res.Items {
		fmt.Fprintf(w, "%d. %s %s\n", i+1, t.categoryStyle().Render("["+it.Category+"]"), it.Content)
		if verbose {
			fmt.Fprintf(w, "   %s\n", t.hintStyle().Render("id: "+it.ID))
		}
	}
	printCategories(w, res.Categories)
}

func printCategories(w io.Writer, categories []string) {
	if len(categories) == 0 {
		return
	}
	fmt.Fprintf(w, "\n%s\n", themeFor(w).titleStyle().Render("Categories"))
	for _, c := range categories {
		fmt.Fprintf(w, "  - %s\n", c)
	}
}
