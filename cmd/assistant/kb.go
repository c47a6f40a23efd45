package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruyacapital/ruya-assistant/internal/models"
	"github.com/ruyacapital/ruya-assistant/internal/services/knowledge"
	"github.com/ruyacapital/ruya-assistant/pkg/database"
	"github.com/spf13/cobra"
)

var (
	kbLanguage string
	kbCategory string
	kbLimit    int
)

var kbCmd = &cobra.Command{
	Use:   "kb",
	Short: "Inspect and manage the knowledge base",
}

var kbSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the knowledge base the way the assistant does",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKnowledge(cmd.Context(), func(store knowledge.Store) error {
			lang, ok := models.ParseLanguage(kbLanguage)
			if !ok && kbLanguage != "" {
				return fmt.Errorf("unknown language %q", kbLanguage)
			}
			retriever := knowledge.NewRetriever(store, log,
				knowledge.WithLimits(kbLimit, cfg.Knowledge.MinRelevance))

			results := retriever.Retrieve(cmd.Context(), strings.Join(args, " "), lang, kbCategory)
			out := cmd.OutOrStdout()
			for _, r := range results {
				fmt.Fprintf(out, "%.2f  %-32s %s\n", r.Relevance, r.Item.ID, r.Item.Title)
			}
			fmt.Fprintf(out, "%d result(s), retrieval confidence %.2f\n",
				len(results), knowledge.RetrievalConfidence(len(results)))
			return nil
		})
	},
}

var kbListCmd = &cobra.Command{
	Use:   "list",
	Short: "List knowledge items",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withKnowledge(cmd.Context(), func(store knowledge.Store) error {
			items, err := store.List(cmd.Context(), kbLanguage)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, item := range items {
				fmt.Fprintf(out, "%-32s %-4s %-12s %s\n", item.ID, item.Language, item.Category, item.Title)
			}
			return nil
		})
	},
}

var kbImportCmd = &cobra.Command{
	Use:   "import <dir>",
	Short: "Import markdown files into the configured knowledge store",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		source := knowledge.NewDirectoryStore(args[0], log)
		if err := source.Load(ctx); err != nil {
			return err
		}
		items, err := source.List(ctx, "")
		if err != nil {
			return err
		}

		return withKnowledge(ctx, func(store knowledge.Store) error {
			for i := range items {
				if err := store.Upsert(ctx, &items[i]); err != nil {
					return fmt.Errorf("import %s: %w", items[i].ID, err)
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d item(s)\n", len(items))
			return nil
		})
	},
}

func init() {
	kbCmd.PersistentFlags().StringVarP(&kbLanguage, "lang", "l", "", "Language filter (ar or en)")
	kbSearchCmd.Flags().StringVar(&kbCategory, "category", "", "Category filter")
	kbSearchCmd.Flags().IntVarP(&kbLimit, "limit", "n", knowledge.DefaultLimit, "Maximum results")

	kbCmd.AddCommand(kbSearchCmd, kbListCmd, kbImportCmd)
}

// withKnowledge opens the configured knowledge store for one command
func withKnowledge(ctx context.Context, fn func(knowledge.Store) error) error {
	if !cfg.Knowledge.Enabled {
		return fmt.Errorf("knowledge base is disabled")
	}

	db, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	if db != nil {
		defer database.Close(db)
	}

	store, err := openKnowledge(ctx, cfg, db, log)
	if err != nil {
		return err
	}
	return fn(store)
}
