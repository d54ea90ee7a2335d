// afipws obtains login tickets, authorizes invoices and looks up taxpayers
// against the identity, invoicing and registry web services.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vocdoni/gofirma/afipws/internal/app"
	"github.com/vocdoni/gofirma/afipws/internal/canon"
	"github.com/vocdoni/gofirma/afipws/internal/config"
	"github.com/vocdoni/gofirma/afipws/internal/logging"
	"github.com/vocdoni/gofirma/afipws/internal/model"
	"github.com/vocdoni/gofirma/afipws/internal/padron"
	"github.com/vocdoni/gofirma/afipws/internal/version"
	"github.com/vocdoni/gofirma/afipws/internal/wsfe"
)

var (
	configPath  string
	logLevel    string
	invoiceFile string
	salesPoint  int
	voucherType int
	registry    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:               "afipws",
		CompletionOptions: cobra.CompletionOptions{DisableDefaultCmd: true},
		Short:             "Client for the AFIP identity, invoicing and registry web services",
		SilenceUsage:      true,
		Version:           version.Get().String(),
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override logger.level (debug, info, warn, error)")

	loginCmd := &cobra.Command{
		Use:   "login [service]",
		Short: "Obtain or reuse a login ticket for a service (default wsfe)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLogin,
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Check the invoicing service health (FEDummy)",
		Args:  cobra.NoArgs,
		RunE:  runStatus,
	}

	lastCmd := &cobra.Command{
		Use:   "last",
		Short: "Print the last authorized voucher number of a sales point and voucher type",
		Args:  cobra.NoArgs,
		RunE:  runLast,
	}
	lastCmd.Flags().IntVarP(&salesPoint, "sales-point", "p", 0, "Sales point (PtoVta) [required]")
	lastCmd.Flags().IntVarP(&voucherType, "type", "t", 0, "Voucher type (CbteTipo) [required]")
	lastCmd.MarkFlagRequired("sales-point")
	lastCmd.MarkFlagRequired("type")

	authorizeCmd := &cobra.Command{
		Use:   "authorize",
		Short: "Authorize one voucher described by a JSON file ({FeCabReq, FeDetReq})",
		Args:  cobra.NoArgs,
		RunE:  runAuthorize,
	}
	authorizeCmd.Flags().StringVarP(&invoiceFile, "file", "f", "", "Invoice JSON file, - for stdin [required]")
	authorizeCmd.MarkFlagRequired("file")

	taxpayerCmd := &cobra.Command{
		Use:   "taxpayer <cuit>",
		Short: "Look up a taxpayer in the registry",
		Args:  cobra.ExactArgs(1),
		RunE:  runTaxpayer,
	}
	taxpayerCmd.Flags().StringVarP(&registry, "registry", "r", "", "Registry to query: a5 or a13 (default: a5 when configured)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}

	rootCmd.AddCommand(loginCmd, statusCmd, lastCmd, authorizeCmd, taxpayerCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

// setup loads configuration and builds the application. The returned func
// releases it.
func setup(ctx context.Context) (*app.App, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Logger.Level = logLevel
	}
	logger, err := logging.New(logging.Config{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("initialization failed", zap.Error(err))
		_ = logger.Sync()
		return nil, nil, err
	}
	return a, func() {
		if err := a.Close(); err != nil {
			logger.Warn("failed to release key material", zap.Error(err))
		}
		_ = logger.Sync()
	}, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	return canon.WriteIndented(cmd.OutOrStdout(), v)
}

func runLogin(cmd *cobra.Command, args []string) error {
	service := wsfe.Service
	if len(args) == 1 {
		service = args[0]
	}
	a, done, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	cred, err := a.Login(cmd.Context(), service)
	if err != nil {
		return fmt.Errorf("%s: %w", model.PublicMessage(err), err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s ticket valid until %s\n", cred.Service, cred.Expiration.Format("2006-01-02 15:04:05 -07:00"))
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	a, done, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	health, err := a.Invoices.ServerStatus(cmd.Context())
	if err != nil {
		return err
	}
	if err := printJSON(cmd, health); err != nil {
		return err
	}
	if !health.OK() {
		return fmt.Errorf("invoicing service is degraded")
	}
	return nil
}

func runLast(cmd *cobra.Command, args []string) error {
	a, done, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	last, err := a.LastAuthorized(cmd.Context(), salesPoint, voucherType)
	if err != nil {
		return fmt.Errorf("%s: %w", model.PublicMessage(err), err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), last)
	return nil
}

func runAuthorize(cmd *cobra.Command, args []string) error {
	var data []byte
	var err error
	if invoiceFile == "-" {
		data, err = io.ReadAll(io.LimitReader(cmd.InOrStdin(), 1<<20))
	} else {
		data, err = os.ReadFile(invoiceFile)
	}
	if err != nil {
		return fmt.Errorf("failed to read invoice: %w", err)
	}
	var req model.InvoiceRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("failed to parse invoice: %w", err)
	}
	header, detail, err := req.Single()
	if err != nil {
		return err
	}

	a, done, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	outcome, err := a.AuthorizeInvoice(cmd.Context(), header, detail)
	if err != nil {
		return fmt.Errorf("%s: %w", model.PublicMessage(err), err)
	}
	if err := printJSON(cmd, outcome); err != nil {
		return err
	}
	if outcome.Result == model.ResultRejected {
		return fmt.Errorf("voucher rejected")
	}
	return nil
}

func runTaxpayer(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || !model.ValidCUIT(args[0]) {
		return fmt.Errorf("invalid CUIT %q", args[0])
	}
	a, done, err := setup(cmd.Context())
	if err != nil {
		return err
	}
	defer done()

	var rec *model.TaxpayerRecord
	switch registry {
	case "":
		rec, err = a.LookupTaxpayer(cmd.Context(), id)
	case string(padron.A5), string(padron.A13):
		rec, err = a.Registry.Lookup(cmd.Context(), padron.Registry(registry), id)
	default:
		return fmt.Errorf("unknown registry %q", registry)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, rec)
}
