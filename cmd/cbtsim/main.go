package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/cbtsim/cbtsim/internal/content"
	"github.com/cbtsim/cbtsim/internal/digitizer"
	"github.com/cbtsim/cbtsim/internal/handler"
	appI18n "github.com/cbtsim/cbtsim/internal/i18n"
	"github.com/cbtsim/cbtsim/internal/model"
	"github.com/cbtsim/cbtsim/internal/session"
	"github.com/cbtsim/cbtsim/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cbtsim",
		Short: "Computer-based test simulator with NTA-style navigation and scoring",
	}

	serve := serveCmd()
	root.AddCommand(serve, exportCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `cbtsim --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP exam server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.String("db", "cbtsim.db", "SQLite database path")
	f.StringP("exam", "e", "exams/jee_mock.json", "Path to exam JSON file")
	f.String("exam-id", "", "Exam ID to serve from the database (overrides --exam)")
	f.String("llm-url", "", "OpenAI-compatible API base URL for paper digitization (empty = disabled)")
	f.String("llm-key", "ollama", "API key for LLM")
	f.String("llm-model", "llama3.2", "LLM model name")
	f.StringP("lang", "l", "en", "UI language (en, hi)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export stored attempt results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	f.String("db", "cbtsim.db", "SQLite database path")
	f.String("exam-id", "", "Exam identifier for output (required)")
	f.String("date", "", "Exam date in YYYY-MM-DD format (required)")
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")

	_ = cmd.MarkFlagRequired("exam-id")
	_ = cmd.MarkFlagRequired("date")

	return cmd
}

func setupLogging(cmd *cobra.Command) {
	v := viperForCmd(cmd)

	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}
	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("CBTSIM")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("cbtsim")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/cbtsim")
	v.AddConfigPath("/etc/cbtsim")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

func runServe(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	// Open database.
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// Load the exam to serve.
	exam, err := loadExam(db, v.GetString("exam"), v.GetString("exam-id"))
	if err != nil {
		return fmt.Errorf("load exam: %w", err)
	}
	idx, err := content.NewIndex(exam)
	if err != nil {
		return fmt.Errorf("validate exam: %w", err)
	}

	// Initialize i18n.
	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	// Create the optional digitizer client.
	var dig *digitizer.Client
	if llmURL := v.GetString("llm-url"); llmURL != "" {
		dig = digitizer.New(llmURL, v.GetString("llm-key"), v.GetString("llm-model"))
		if err := dig.Ping(context.Background()); err != nil {
			return fmt.Errorf("digitizer health check: %w", err)
		}
		slog.Info("digitizer endpoint OK", "url", llmURL, "model", v.GetString("llm-model"))
	}

	mgr := session.NewManager()
	h := handler.New(db, mgr, dig, idx)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang))
	h.Routes(r)

	addr := v.GetString("addr")
	slog.Info("starting server",
		"addr", addr,
		"exam_id", exam.ID,
		"exam_name", exam.Name,
		"questions", exam.QuestionCount(),
		"duration_minutes", exam.DurationMinutes,
		"lang", lang,
		"digitizer", dig != nil,
	)
	return http.ListenAndServe(addr, r)
}

func runExport(cmd *cobra.Command, _ []string) error {
	setupLogging(cmd)
	v := viperForCmd(cmd)

	db, err := store.New(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	results, err := db.ListResults()
	if err != nil {
		return fmt.Errorf("list results: %w", err)
	}

	examID := v.GetString("exam-id")
	filtered := results[:0]
	for _, res := range results {
		if res.ExamID == examID {
			filtered = append(filtered, res)
		}
	}

	examName := ""
	numQuestions := 0
	if len(filtered) > 0 {
		examName = filtered[0].ExamName
		numQuestions = filtered[0].TotalQuestions
	}

	export := model.ResultExport{
		ExamID:       examID,
		ExamName:     examName,
		Date:         v.GetString("date"),
		NumQuestions: numQuestions,
		Results:      filtered,
	}

	data, err := json.MarshalIndent(export, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = os.Stdout
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}

	_, err = w.Write(data)
	if err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)

	return nil
}

// loadExam resolves the exam to serve. An explicit --exam-id picks a stored
// exam; otherwise the exam file is imported, skipped when its content hash
// matches the previous import.
func loadExam(db *store.Store, path, examID string) (model.Exam, error) {
	if examID != "" {
		return db.GetExam(examID)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Exam{}, fmt.Errorf("read %s: %w", path, err)
	}

	var exam model.Exam
	if err := json.Unmarshal(data, &exam); err != nil {
		return model.Exam{}, fmt.Errorf("parse %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := db.GetImportedFileHash(path)
	if err != nil {
		return model.Exam{}, fmt.Errorf("check import status for %s: %w", path, err)
	}

	if storedHash == hash {
		slog.Info("exam file unchanged, serving stored copy", "path", path, "exam_id", exam.ID)
		return db.GetExam(exam.ID)
	}

	if err := db.PutExam(exam); err != nil {
		return model.Exam{}, fmt.Errorf("store exam from %s: %w", path, err)
	}
	if err := db.SetImportedFileHash(path, hash); err != nil {
		return model.Exam{}, fmt.Errorf("record import for %s: %w", path, err)
	}
	slog.Info("imported exam", "path", path, "exam_id", exam.ID, "questions", exam.QuestionCount())
	return exam, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
