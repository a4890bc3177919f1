// Command iqbotctl ingests sources into a throwaway workspace and asks
// questions against it from the terminal.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"iqbot/internal/ai"
	"iqbot/internal/config"
	"iqbot/internal/logger"
	"iqbot/internal/workspace"
	"iqbot/models"
	"iqbot/services"
	"iqbot/utils"

	"github.com/spf13/cobra"
)

var (
	askPDFs     []string
	askArchives []string
	askURLs     []string
	askJSON     bool

	tokenSubject string
)

var rootCmd = &cobra.Command{
	Use:           "iqbotctl",
	Short:         "Ask questions about PDFs, note archives and web pages",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ingest sources and answer a question",
	Long: `Ingests every --pdf, --archive and --url given, then answers the question.
Without a question argument, questions are read from stdin one per line.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runAsk,
}

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Print a bearer token for the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadConfig()
		if err != nil {
			return err
		}
		if cfg.JWTSecret == "" {
			return errors.New("JWT_SECRET is not set")
		}
		token, err := utils.GenerateJWT(tokenSubject, cfg.WorkspaceID, cfg.JWTSecret, cfg.JWTExpiresIn)
		if err != nil {
			return fmt.Errorf("failed to sign token: %w", err)
		}
		cmd.Println(token)
		return nil
	},
}

func init() {
	askCmd.Flags().StringArrayVar(&askPDFs, "pdf", nil, "PDF file to ingest (repeatable)")
	askCmd.Flags().StringArrayVar(&askArchives, "archive", nil, "zip of Markdown notes to ingest (repeatable)")
	askCmd.Flags().StringArrayVar(&askURLs, "url", nil, "web page to ingest (repeatable)")
	askCmd.Flags().BoolVar(&askJSON, "json", false, "output answers as JSON")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "iqbotctl", "token subject")

	rootCmd.AddCommand(askCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func runAsk(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	logger.InitLoggerTo(os.Stderr, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	embedder, err := ai.NewEmbedder(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("embedder: %w", err)
	}
	generator, err := ai.NewGenerator(ctx, cfg, nil)
	if err != nil {
		return fmt.Errorf("generator: %w", err)
	}
	assistant := services.NewAssistant(cfg, workspace.New(cfg.WorkspaceID), embedder, generator, nil)

	ingestAll(ctx, cmd, assistant.Ingest)

	if len(args) == 1 {
		return ask(ctx, cmd, assistant.Chat, args[0])
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		cmd.Print("> ")
		if !scanner.Scan() {
			cmd.Println()
			return scanner.Err()
		}
		q := strings.TrimSpace(scanner.Text())
		if q == "" {
			continue
		}
		if err := ask(ctx, cmd, assistant.Chat, q); err != nil {
			return err
		}
	}
}

type fileArg struct {
	kind models.SourceKind
	path string
}

// ingestAll reports every item. A failed item does not stop the rest.
func ingestAll(ctx context.Context, cmd *cobra.Command, ingest *services.IngestService) {
	files := make([]fileArg, 0, len(askPDFs)+len(askArchives))
	for _, p := range askPDFs {
		files = append(files, fileArg{models.SourceKindPDF, p})
	}
	for _, p := range askArchives {
		files = append(files, fileArg{models.SourceKindArchive, p})
	}

	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			cmd.PrintErrf("  ✗ %s: %v\n", f.path, err)
			continue
		}
		res, err := ingest.Ingest(ctx, f.kind, filepath.Base(f.path), data)
		report(cmd, f.path, res, err)
	}
	for _, u := range askURLs {
		res, err := ingest.IngestURL(ctx, u)
		report(cmd, u, res, err)
	}
}

func report(cmd *cobra.Command, item string, res services.IngestResult, err error) {
	if err != nil {
		cmd.PrintErrf("  ✗ %s: %v\n", item, err)
		return
	}
	if res.Status == models.IngestStatusAlreadyProcessed {
		cmd.PrintErrf("  = %s already processed\n", res.Source.Name)
		return
	}
	cmd.PrintErrf("  ✓ %s (%s, %d chunks)\n", res.Source.Name, res.Source.Kind, res.Source.ChunkCount)
}

func ask(ctx context.Context, cmd *cobra.Command, chat *services.ChatService, question string) error {
	ans, err := chat.Ask(ctx, question)
	if err != nil {
		return err
	}
	citations := ans.Citations
	if !ans.Grounded {
		citations = []models.Citation{}
	}

	if askJSON {
		data, err := json.MarshalIndent(models.AskResponse{Answer: ans.Text, Citations: citations, Grounded: ans.Grounded}, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal answer: %w", err)
		}
		cmd.Println(string(data))
		return nil
	}

	cmd.Println(ans.Text)
	if len(citations) > 0 {
		cmd.Println()
		cmd.Println("Sources:")
		for i, c := range citations {
			loc := c.SourceName
			if c.Page > 0 {
				loc = fmt.Sprintf("%s p.%d", loc, c.Page)
			}
			if c.OriginURL != "" {
				loc += " <" + c.OriginURL + ">"
			}
			cmd.Printf("  [%d] %s (%.2f)\n", i+1, loc, c.Score)
			cmd.Printf("      %s\n", c.Preview)
		}
	}
	cmd.Println()
	return nil
}
