package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/camden-git/objectmatch/app"
	"github.com/camden-git/objectmatch/config"
	"github.com/camden-git/objectmatch/database"
	"github.com/camden-git/objectmatch/services"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("Info: error loading .env: %v", err)
	}

	var (
		cfg        config.Config
		jsonOutput bool
		queryImage string
		limit      int
		offset     int
		yes        bool
	)

	rootCmd := &cobra.Command{
		Use:           "matchctl",
		Short:         "Detect, index and match objects across image collections",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v, err := config.New()
			if err != nil {
				return err
			}
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			cfg, err = config.FromViper(v)
			return err
		},
	}

	pf := rootCmd.PersistentFlags()
	pf.String("db", "objects.db", "SQLite feature store path")
	pf.String("images-dir", "images", "Directory of images to load")
	pf.String("storage-dir", "data", "Directory for extracted objects and uploads")
	pf.String("class", "clipper", "Target object class")
	pf.String("strategy", "sift", "Matching strategy (sift or dinov2)")
	pf.String("model", "dinov2_vits14", "Embedding model variant for dinov2")
	pf.String("detector", "./models/best.onnx", "Detector ONNX model path")
	pf.String("labels", "./models/labels.txt", "Detector class labels file")
	pf.String("embedding-model", "./models/dinov2_vits14.onnx", "Embedding ONNX model path")
	pf.Float64("confidence", services.DefaultConfidence, "Detection confidence threshold")
	pf.Float64("similarity", 0.5, "Minimum cosine similarity for dinov2 matches")
	pf.Int("top-k", services.DefaultTopK, "Number of matches to return")
	pf.Int("workers", services.DefaultWorkers, "Parallel workers for loading")
	pf.BoolVar(&jsonOutput, "json", false, "Print results as JSON")

	withEngine := func(fn func(ctx context.Context, engine *services.Engine) error) error {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		a, err := app.New(cfg)
		if err != nil {
			return err
		}
		defer a.Close()
		engine, err := a.DefaultEngine()
		if err != nil {
			return err
		}
		return fn(ctx, engine)
	}

	loadCmd := &cobra.Command{
		Use:   "load",
		Short: "Detect objects in --images-dir and add them to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *services.Engine) error {
				progress := services.WithProgress(func(done, total int) {
					if !jsonOutput {
						fmt.Fprintf(os.Stderr, "\rprocessed %d/%d images", done, total)
					}
				})
				stats, err := engine.LoadDatabase(ctx, cfg.ImagesDir, cfg.Confidence, cfg.Workers, progress)
				if !jsonOutput {
					fmt.Fprintln(os.Stderr)
				}
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stats)
				}
				fmt.Printf("Total images:     %d\n", stats.TotalImages)
				fmt.Printf("Processed images: %d\n", stats.ProcessedImages)
				fmt.Printf("Failed images:    %d\n", stats.FailedImages)
				fmt.Printf("Objects stored:   %d\n", stats.TotalObjects)
				fmt.Printf("Elapsed:          %.2fs\n", stats.ElapsedSeconds)
				return nil
			})
		},
	}

	var objectClass string
	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Find stored objects similar to the object in --query-image",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *services.Engine) error {
				results, err := engine.QueryObject(ctx, queryImage, services.QueryOptions{
					Threshold:     cfg.Confidence,
					TopK:          cfg.TopK,
					ClassFilter:   objectClass,
					MinSimilarity: cfg.MinSimilarity,
				})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(results)
				}
				if len(results) == 0 {
					fmt.Println("No matches found.")
					return nil
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RANK\tOBJECT\tSCORE\tCLASS\tCONF\tSOURCE")
				for i, m := range results {
					fmt.Fprintf(tw, "%d\t%d\t%.4f\t%s\t%.2f\t%s\n", i+1, m.ObjectID, m.SimilarityScore, m.ObjectClass, m.Confidence, m.OriginalFilename)
				}
				return tw.Flush()
			})
		},
	}
	queryCmd.Flags().StringVar(&queryImage, "query-image", "", "Image containing the object to search for")
	queryCmd.Flags().StringVar(&objectClass, "object-class", "", "Only match stored objects of this class")
	_ = queryCmd.MarkFlagRequired("query-image")

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *services.Engine) error {
				stats, err := engine.GetStats(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(stats)
				}
				fmt.Printf("Images:              %d\n", stats.DatabaseStats.ImageCount)
				fmt.Printf("Objects:             %d\n", stats.DatabaseStats.ObjectCount)
				fmt.Printf("Mean signature size: %.1f\n", stats.DatabaseStats.MeanSignatureSize)
				fmt.Printf("Target class:        %s\n", stats.TargetClass)
				fmt.Printf("Extractor:           %s\n", stats.FeatureExtractor)
				for class, n := range stats.DatabaseStats.PerClassCounts {
					fmt.Printf("  %-18s %d\n", class, n)
				}
				return nil
			})
		},
	}

	objectsCmd := &cobra.Command{
		Use:   "objects",
		Short: "List stored objects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(func(ctx context.Context, engine *services.Engine) error {
				objects, total, err := engine.ListObjects(ctx, database.ObjectFilter{Class: objectClass, Limit: limit, Offset: offset})
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(map[string]any{"objects": objects, "total": total})
				}
				tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tCLASS\tCONF\tSIGNATURE\tSOURCE")
				for _, o := range objects {
					fmt.Fprintf(tw, "%d\t%s\t%.2f\t%d\t%s\n", o.ID, o.ObjectClass, o.Confidence, o.SignatureSize, o.ImageFilename)
				}
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Printf("%d of %d objects\n", len(objects), total)
				return nil
			})
		},
	}
	objectsCmd.Flags().StringVar(&objectClass, "object-class", "", "Only list objects of this class")
	objectsCmd.Flags().IntVar(&limit, "limit", 50, "Maximum objects to list")
	objectsCmd.Flags().IntVar(&offset, "offset", 0, "Objects to skip")

	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every stored image, object and extracted crop",
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("refusing to reset without --yes")
			}
			return withEngine(func(ctx context.Context, engine *services.Engine) error {
				if err := engine.Reset(ctx); err != nil {
					return err
				}
				fmt.Println("Store cleared.")
				return nil
			})
		},
	}
	resetCmd.Flags().BoolVar(&yes, "yes", false, "Confirm the reset")

	rootCmd.AddCommand(loadCmd, queryCmd, statsCmd, objectsCmd, resetCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
