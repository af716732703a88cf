package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/certifier/internal/exam"
	"github.com/pavelanni/certifier/internal/handler"
	appI18n "github.com/pavelanni/certifier/internal/i18n"
	"github.com/pavelanni/certifier/internal/model"
	"github.com/pavelanni/certifier/internal/store"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "certifier",
		Short:        "Certification exam and scoring server",
		SilenceUsage: true,
	}

	serve := serveCmd()
	root.AddCommand(serve, importCmd(), verifyCmd(), exportCmd(), sweepCmd())

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE

	// Register serve flags on root so bare `certifier --addr ...` still works.
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

func commonFlags(f *pflag.FlagSet) {
	f.String("db", "certifier.db", "SQLite database path")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE:  runServe,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringSliceP("certifications", "c", nil, "Certification definition files or directories to import at startup (repeatable)")
	f.StringP("lang", "l", "en", "Default UI language (en, ru)")
	f.Duration("expiry-warning", exam.DefaultExpiryWarning, "Report certificates as expiring_soon this long before expiry")
	f.Bool("secure-cookies", true, "Set Secure flag on session cookies")
	f.StringSlice("cors-origins", nil, "Origins allowed to call the API from a browser (repeatable)")
	f.String("admin-password", "", "Initial admin password (or set CERTIFIER_ADMIN_PASSWORD)")
	return cmd
}

func importCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import certification definitions",
		RunE:  runImport,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringSliceP("file", "f", nil, "Definition file or directory (repeatable)")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func verifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify <code-or-number>",
		Short: "Verify a certificate by verification code or certificate number",
		Args:  cobra.ExactArgs(1),
		RunE:  runVerify,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.Duration("expiry-warning", exam.DefaultExpiryWarning, "Report certificates as expiring_soon this long before expiry")
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export attempts and results as JSON",
		RunE:  runExport,
	}
	f := cmd.Flags()
	commonFlags(f)
	f.StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func sweepCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Expire overdue attempts and purge stale login sessions",
		RunE:  runSweep,
	}
	commonFlags(cmd.Flags())
	return cmd
}

func setupLogging(v *viper.Viper) {
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

	v.SetEnvPrefix("CERTIFIER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("certifier")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/certifier")
	v.AddConfigPath("/etc/certifier")
	v.AddConfigPath("/data")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// openStore sets up logging and opens the database for a command.
func openStore(cmd *cobra.Command) (*viper.Viper, *store.Store, error) {
	v := viperForCmd(cmd)
	setupLogging(v)
	db, err := store.New(v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return v, db, nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := cmd.Context()

	if err := seedAdmin(ctx, db, v.GetString("admin-password")); err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	svc := exam.New(db, exam.WithExpiryWarning(v.GetDuration("expiry-warning")))
	if err := importDefinitions(ctx, svc, v.GetStringSlice("certifications")); err != nil {
		return fmt.Errorf("import certifications: %w", err)
	}

	h := handler.New(db, svc, handler.Config{
		SecureCookies: v.GetBool("secure-cookies"),
		CORSOrigins:   v.GetStringSlice("cors-origins"),
	})

	addr := v.GetString("addr")
	srv := &http.Server{
		Addr:              addr,
		Handler:           h.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("starting server",
		"addr", addr,
		"lang", lang,
		"expiry_warning", v.GetDuration("expiry-warning"),
		"cors_origins", v.GetStringSlice("cors-origins"),
	)
	return srv.ListenAndServe()
}

func runImport(cmd *cobra.Command, _ []string) error {
	v, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()
	return importDefinitions(cmd.Context(), exam.New(db), v.GetStringSlice("file"))
}

func runVerify(cmd *cobra.Command, args []string) error {
	v, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	svc := exam.New(db, exam.WithExpiryWarning(v.GetDuration("expiry-warning")))
	res, err := svc.VerifyCertificate(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	return writeJSON(cmd.OutOrStdout(), res)
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	export, err := db.ExportResults(cmd.Context())
	if err != nil {
		return fmt.Errorf("export results: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return writeJSON(w, export)
}

func runSweep(cmd *cobra.Command, _ []string) error {
	_, db, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer db.Close()

	n, err := exam.New(db).SweepExpired(cmd.Context())
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}
	purged, err := db.PurgeExpiredAuthSessions(cmd.Context(), time.Now())
	if err != nil {
		return fmt.Errorf("purge sessions: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "expired %d attempt(s), purged %d login session(s)\n", n, purged)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	// Ensure trailing newline.
	_, _ = fmt.Fprintln(w)
	return nil
}

// definitionFiles expands directories into the JSON files they contain.
func definitionFiles(paths []string) ([]string, error) {
	var files []string
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, p)
			continue
		}
		matches, err := filepath.Glob(filepath.Join(p, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = append(files, matches...)
	}
	return files, nil
}

func importDefinitions(ctx context.Context, svc *exam.Service, paths []string) error {
	files, err := definitionFiles(paths)
	if err != nil {
		return err
	}
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		if _, _, err := svc.ImportDefinition(ctx, path, data); err != nil {
			return fmt.Errorf("import %s: %w", path, err)
		}
	}
	return nil
}

func seedAdmin(ctx context.Context, db *store.Store, password string) error {
	count, err := db.UserCount(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if password == "" {
		return fmt.Errorf("admin password is required: set --admin-password flag or CERTIFIER_ADMIN_PASSWORD env var")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("hash admin password: %w", err)
	}

	_, err = db.CreateUser(ctx, model.User{
		Username:     "admin",
		DisplayName:  "Administrator",
		PasswordHash: string(hash),
		Role:         model.UserRoleAdmin,
		Active:       true,
	})
	if err != nil {
		return fmt.Errorf("create admin user: %w", err)
	}

	slog.Info("seeded default admin user", "username", "admin")
	return nil
}
