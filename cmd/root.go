/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/moolen/pktwatch/pkg/controller"
	"github.com/moolen/pktwatch/pkg/log"

	// enable profiling
	_ "net/http/pprof"
)

var logger = log.DefaultLogger

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pktwatch",
	Short: "per-address IPv4 packet counters with an operator-driven source blocklist",
	Long:  ``,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.WithV(verbosity)
	},
	Run: func(cmd *cobra.Command, args []string) {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		iface := controller.ResolveInterface(netDeviceName)
		logger.Info("launching controller", "interface", iface, "mode", mode)
		ctrl, err := controller.New(controller.Config{
			Iface:         iface,
			Mode:          controller.Mode(mode),
			SocketPath:    controlSocket,
			BPFObjectPath: bpfObj,
		})
		if err != nil {
			logger.Error(err, "unable to create controller")
			os.Exit(1)
		}
		defer ctrl.Close()

		http.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))
		go func() {
			err := http.ListenAndServe(metricsListen, nil)
			if err != nil {
				logger.Error(err, "unable to listen http")
			}
		}()

		if err := ctrl.Run(ctx); err != nil {
			logger.Error(err, "controller failed")
			os.Exit(1)
		}
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

var (
	verbosity     int
	netDeviceName string
	controlSocket string
	metricsListen string
	mode          string
	bpfObj        string
)

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().IntVarP(&verbosity, "verbosity", "v", 0, "verbosity level to use")
	rootCmd.PersistentFlags().StringVar(&controlSocket, "control-socket", "/tmp/control", "path of the unix control socket")
	rootCmd.Flags().StringVarP(&netDeviceName, "net-device-name", "i", "eth0", "name of the network interface to attach to. `auto` picks the default-route interface")
	rootCmd.Flags().StringVar(&mode, "mode", string(controller.ModeXDP), "datapath mode: xdp (kernel classifier) or capture (userspace classifier)")
	rootCmd.Flags().StringVar(&bpfObj, "bpf-obj", "/usr/lib/pktwatch/xdp_count.o", "path to the compiled XDP classifier object")
	rootCmd.Flags().StringVar(&metricsListen, "metrics-listen", ":3000", "listen address of the prometheus metrics endpoint")
}

func initConfig() {
	viper.AutomaticEnv()
}
