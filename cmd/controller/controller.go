package controller

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/manuel-valencia/lab-framework/internal/api"
	"github.com/manuel-valencia/lab-framework/internal/config"
	ctrl "github.com/manuel-valencia/lab-framework/internal/controller"
	"github.com/manuel-valencia/lab-framework/internal/registry"
)

func New() *cobra.Command {
	var (
		broker string
		port   int
		bind   string
	)

	cmd := &cobra.Command{
		Use:   "controller",
		Short: "Run the lab controller: registry, command dispatch, HTTP API",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultControllerConfigFromEnv()
			if broker != "" {
				cfg.BrokerAddress = broker
			}
			if port != 0 {
				cfg.BrokerPort = port
			}
			if cmd.Flags().Changed("bind") {
				cfg.APIBind = bind
			}

			if err := runController(cfg); err != nil {
				log.Fatal().Err(err).Msg("Controller terminated")
			}
		},
	}

	cmd.Flags().StringVar(&broker, "broker", "", "MQTT broker address (overrides LAB_MQTT_BROKER)")
	cmd.Flags().IntVar(&port, "port", 0, "MQTT broker port (overrides LAB_MQTT_PORT)")
	cmd.Flags().StringVar(&bind, "bind", ":8080", "HTTP API listen address; empty disables the API")

	return cmd
}

func runController(cfg config.Controller) error {
	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	svc, err := ctrl.NewService(cfg, store, nil)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	var server *api.Server
	if cfg.APIBind != "" {
		server = api.NewServer(cfg, svc)
		go func() {
			if err := server.Start(); err != nil {
				log.Error().Err(err).Msg("HTTP API failed")
			}
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down controller")

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			log.Warn().Err(err).Msg("HTTP API shutdown incomplete")
		}
	}
	svc.Stop()
	return nil
}

func newStore(cfg config.Controller) (registry.Store, error) {
	if cfg.RedisURL != "" {
		log.Info().Msg("Using Redis-backed registry store")
		return registry.NewRedisStore(cfg.RedisURL)
	}
	log.Info().Str("path", cfg.RegistryPath).Msg("Using file-backed registry store")
	return registry.NewFileStore(cfg.RegistryPath), nil
}
