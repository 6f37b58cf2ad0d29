package main

import (
	"context"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/form3tech-oss/pact-verifier/internal/app/configuration"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

var (
	stubAddress string
	adminPort   int
)

var stubCmd = &cobra.Command{
	Use:   "stub <contract-file>",
	Short: "Serve a contract document as a stub provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		address, err := url.Parse(stubAddress)
		if err != nil || address.Host == "" {
			return errors.Errorf("address must be an absolute url, got %q", stubAddress)
		}

		doc, err := loadDocument(args[0])
		if err != nil {
			return err
		}
		if _, err := configuration.StartServer(address, doc, config.TLS); err != nil {
			return err
		}

		waitForSignal()
		shutdown(nil)
		return nil
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Run the admin API that starts and stops stub providers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			config.AdminPort = adminPort
		}

		log.Infof("serving admin API on port %d", config.AdminPort)
		adminServer := configuration.ServeAdminAPI(config.AdminPort, config.TLS)

		waitForSignal()
		shutdown(adminServer.Close)
		return nil
	},
}

func init() {
	stubCmd.Flags().StringVar(&stubAddress, "address", "http://localhost:8081", "Address the stub listens on, may include a path")
	adminCmd.Flags().IntVar(&adminPort, "port", 8080, "Admin API port (env ADMIN_PORT)")
	rootCmd.AddCommand(stubCmd, adminCmd)
}

func waitForSignal() {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
}

func shutdown(closeAdmin func() error) {
	if closeAdmin != nil {
		if err := closeAdmin(); err != nil {
			log.Error(err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	configuration.ShutdownAllServers(ctx)
}
