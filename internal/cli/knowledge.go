package cli

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/soyeahso/closer/internal/store"
	"github.com/spf13/cobra"
)

func newKnowledgeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "knowledge",
		Short: "Manage the product knowledge base used in replies",
	}
	cmd.AddCommand(newKnowledgeAddCmd())
	cmd.AddCommand(newKnowledgeSearchCmd())
	cmd.AddCommand(newKnowledgeListCmd())
	cmd.AddCommand(newKnowledgeDeleteCmd())
	return cmd
}

// withKnowledge opens the configured sqlite store and runs fn.
func withKnowledge(fn func(k *store.Knowledge) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if err := paths.EnsureDirs(); err != nil {
		return err
	}
	st, k, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(k)
}

func newKnowledgeAddCmd() *cobra.Command {
	var (
		category string
		source   string
		file     string
	)
	cmd := &cobra.Command{
		Use:   "add [text...]",
		Short: "Add a knowledge chunk from arguments or a file",
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")
			if file != "" {
				data, err := os.ReadFile(file)
				if err != nil {
					return err
				}
				content = string(data)
				if source == "" {
					source = file
				}
			}
			if strings.TrimSpace(content) == "" {
				return fmt.Errorf("nothing to add: pass text or --file")
			}
			return withKnowledge(func(k *store.Knowledge) error {
				chunk, err := k.Add(cmd.Context(), store.Chunk{
					Category: category,
					Source:   source,
					Content:  strings.TrimSpace(content),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", chunk.ID, humanize.Bytes(uint64(len(chunk.Content))))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "product", "chunk category (product, faq, objection, ...)")
	cmd.Flags().StringVar(&source, "source", "", "where the text came from")
	cmd.Flags().StringVar(&file, "file", "", "read the chunk from a file")
	return cmd
}

func newKnowledgeSearchCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Full-text search the knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKnowledge(func(k *store.Knowledge) error {
				chunks, err := k.Search(cmd.Context(), strings.Join(args, " "), limit)
				if err != nil {
					return err
				}
				return writeChunks(cmd.OutOrStdout(), chunks)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "maximum results")
	return cmd
}

func newKnowledgeListCmd() *cobra.Command {
	var (
		category string
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List knowledge chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKnowledge(func(k *store.Knowledge) error {
				chunks, err := k.List(cmd.Context(), category, limit)
				if err != nil {
					return err
				}
				return writeChunks(cmd.OutOrStdout(), chunks)
			})
		},
	}
	cmd.Flags().StringVar(&category, "category", "", "only this category")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum results")
	return cmd
}

func newKnowledgeDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a knowledge chunk",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKnowledge(func(k *store.Knowledge) error {
				if err := k.Delete(cmd.Context(), args[0]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
}

func writeChunks(out io.Writer, chunks []store.Chunk) error {
	if len(chunks) == 0 {
		fmt.Fprintln(out, "No matches.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCATEGORY\tUPDATED\tCONTENT")
	for _, c := range chunks {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", c.ID, c.Category, humanize.Time(c.UpdatedAt), preview(c.Content, 60))
	}
	return tw.Flush()
}

// preview returns the first line of s, cut to n runes.
func preview(s string, n int) string {
	s, _, _ = strings.Cut(s, "\n")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
