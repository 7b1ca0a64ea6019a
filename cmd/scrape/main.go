package main

import (
	"context"
	"fmt"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/kjannette/tvscrape/internal/config"
	"github.com/kjannette/tvscrape/internal/httputil"
	"github.com/kjannette/tvscrape/internal/logging"
	"github.com/kjannette/tvscrape/internal/scrape"
	"github.com/kjannette/tvscrape/internal/tlsutil"
	"github.com/kjannette/tvscrape/internal/tradingview"
)

var rootCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Scrape TradingView chart and quote data",
	Long:  `Runs one scrape against the TradingView websocket feed and prints the result, or generates TLS material for the HTTP service.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := cmd.Flags().GetString("log-level")
		if err != nil {
			return err
		}
		if err := logging.Setup(level, "text"); err != nil {
			return err
		}
		// stdout carries the result
		log.SetOutput(os.Stderr)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a scrape request file and print the result",
	RunE: func(cmd *cobra.Command, args []string) error {
		file, err := cmd.Flags().GetString("file")
		if err != nil {
			return err
		}
		format, err := cmd.Flags().GetString("format")
		if err != nil {
			return err
		}
		timeout, err := cmd.Flags().GetDuration("timeout")
		if err != nil {
			return err
		}
		if !validFormat(format) {
			return fmt.Errorf("unknown format %q (json, csv, table)", format)
		}

		req, err := scrape.LoadRequestFile(file)
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := checkTimeout(req, timeout, cfg.StreamWindow()); err != nil {
			return err
		}
		runner := scrape.ClientRunner(tradingview.Options{
			URL:    cfg.TVWebsocketURL,
			Origin: cfg.TVOrigin,
			Retry: httputil.RetryConfig{
				MaxAttempts: cfg.DialAttempts,
				BaseDelay:   500 * time.Millisecond,
				MaxDelay:    4 * time.Second,
			},
			StreamWindow: cfg.StreamWindow(),
		})
		svc := scrape.NewService(runner, scrape.Options{Timeout: timeout})

		res, err := svc.Scrape(context.Background(), req)
		if err != nil {
			return fmt.Errorf("scrape: %w", err)
		}
		return writeResult(os.Stdout, format, res)
	},
}

var gencertCmd = &cobra.Command{
	Use:   "gencert",
	Short: "Write a self-signed certificate and key for the HTTP service",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cmd.Flags().GetString("out")
		if err != nil {
			return err
		}
		hosts, err := cmd.Flags().GetStringSlice("host")
		if err != nil {
			return err
		}

		certFile, keyFile, err := tlsutil.WriteSelfSigned(out, hosts)
		if err != nil {
			return err
		}
		log.WithField("hosts", hosts).Info("self-signed certificate written")
		fmt.Printf("TLS_CERT_FILE=%s\nTLS_KEY_FILE=%s\n", certFile, keyFile)
		return nil
	},
}

// checkTimeout rejects deadlines that a request can never meet.
func checkTimeout(req scrape.Request, timeout, window time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	if req.ClientConfig.WithDefaults().Mode == tradingview.ModeStreaming && timeout <= window {
		return fmt.Errorf("--timeout %s must be above the stream window %s (STREAM_WINDOW_SECONDS)", timeout, window)
	}
	return nil
}

func main() {
	rootCmd.PersistentFlags().String("log-level", "info", "logrus level for diagnostics on stderr")

	runCmd.Flags().StringP("file", "f", "", "Request file (.json, .yaml or .yml). This flag is required.")
	runCmd.Flags().String("format", "json", "Output format: json, csv (candles) or table")
	runCmd.Flags().Duration("timeout", scrape.DefaultTimeout, "Hard deadline for the scrape")
	runCmd.MarkFlagRequired("file")

	gencertCmd.Flags().StringP("out", "o", ".", "Directory for cert.pem and key.pem")
	gencertCmd.Flags().StringSlice("host", tlsutil.DefaultHosts, "DNS name or IP to include; repeatable")

	rootCmd.AddCommand(runCmd, gencertCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
