package node

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/manuel-valencia/lab-framework/internal/config"
	"github.com/manuel-valencia/lab-framework/internal/egress"
	"github.com/manuel-valencia/lab-framework/internal/fsm"
	"github.com/manuel-valencia/lab-framework/internal/hardware"
	nodesvc "github.com/manuel-valencia/lab-framework/internal/node"
)

func New() *cobra.Command {
	var (
		nodeID      string
		broker      string
		port        int
		hasSensor   bool
		hasActuator bool
		skipEgress  bool
	)

	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run an experiment node against the lab broker",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := config.DefaultNodeConfigFromEnv()
			if nodeID != "" {
				cfg.ClientID = nodeID
			}
			if broker != "" {
				cfg.BrokerAddress = broker
			}
			if port != 0 {
				cfg.BrokerPort = port
			}
			if cmd.Flags().Changed("sensor") {
				cfg.Hardware.HasSensor = hasSensor
			}
			if cmd.Flags().Changed("actuator") {
				cfg.Hardware.HasActuator = hasActuator
			}

			if err := runNode(cfg, skipEgress); err != nil {
				log.Fatal().Err(err).Msg("Node terminated")
			}
		},
	}

	cmd.Flags().StringVar(&nodeID, "id", "", "Node identity (overrides LAB_NODE_ID)")
	cmd.Flags().StringVar(&broker, "broker", "", "MQTT broker address (overrides LAB_MQTT_BROKER)")
	cmd.Flags().IntVar(&port, "port", 0, "MQTT broker port (overrides LAB_MQTT_PORT)")
	cmd.Flags().BoolVar(&hasSensor, "sensor", false, "Node has a sensor")
	cmd.Flags().BoolVar(&hasActuator, "actuator", false, "Node has an actuator")
	cmd.Flags().BoolVar(&skipEgress, "no-egress", false, "Skip the data-service health gate and keep results local")

	return cmd
}

func runNode(cfg config.Node, skipEgress bool) error {
	driver := hardware.NewSim()

	var sink fsm.DataSink
	if !skipEgress {
		sink = egress.NewClient(cfg.ClientID, cfg.RestAddress, cfg.RestPort, cfg.RestTimeout)
	}

	svc, err := nodesvc.New(cfg, driver, sink)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info().Str("signal", sig.String()).Msg("Shutting down node")

	svc.Stop()
	return nil
}
