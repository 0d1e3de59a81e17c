/*
Copyright (c) Quadrosync Project Authors.

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
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quadrosync/engine/facade"
	"github.com/quadrosync/engine/settings"
	"github.com/quadrosync/engine/transport"
	"github.com/quadrosync/engine/wire"
)

var (
	runBroadcastPortFlag  int
	runUnicastPortFlag    int
	runBroadcastAddrFlag  string
	runMonitoringPortFlag int
	runSettingsPathFlag   string
	runProjectIDFlag      string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a quadrosync node until interrupted",
	RunE:  runRun,
}

func init() {
	RootCmd.AddCommand(runCmd)
	runCmd.Flags().IntVar(&runBroadcastPortFlag, "broadcast-port", 5700, "UDP port peers broadcast discovery/election/settings traffic on")
	runCmd.Flags().IntVar(&runUnicastPortFlag, "unicast-port", 5701, "UDP port this node listens on for unicast traffic")
	runCmd.Flags().StringVar(&runBroadcastAddrFlag, "broadcast-addr", "255.255.255.255", "LAN broadcast address")
	runCmd.Flags().IntVar(&runMonitoringPortFlag, "monitoring-port", 4270, "HTTP port serving /metrics; 0 disables it")
	runCmd.Flags().StringVar(&runSettingsPathFlag, "settings-path", "", "path to persist replicated settings across restarts")
	runCmd.Flags().StringVar(&runProjectIDFlag, "project-id", "", "stable UUID scoping this node to one project; generated if empty")
}

func runRun(_ *cobra.Command, _ []string) error {
	hostname := rootHostnameFlag
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return err
		}
		hostname = h
	}

	initial := settings.Default()
	if rootConfigFlag != "" {
		loaded, err := settings.ReadConfig(rootConfigFlag)
		if err != nil {
			return err
		}
		initial = *loaded
	}

	projectID, err := parseOrGenerateProjectID(runProjectIDFlag)
	if err != nil {
		return err
	}

	f := facade.New(facade.Config{
		Hostname:  hostname,
		ProjectID: projectID,
		Transport: transport.Config{
			BroadcastPort: runBroadcastPortFlag,
			UnicastPort:   runUnicastPortFlag,
			BroadcastAddr: runBroadcastAddrFlag,
			QueueSize:     256,
		},
		Initial:      initial,
		SettingsPath: runSettingsPathFlag,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := f.Initialize(ctx); err != nil {
		return err
	}
	defer f.Shutdown()

	if runMonitoringPortFlag != 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", f.MetricsHandler())
		srv := &http.Server{Addr: ":" + strconv.Itoa(runMonitoringPortFlag), Handler: mux}
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Errorf("quadrosyncd: monitoring server: %v", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	log.Infof("quadrosyncd: running as %s", hostname)
	<-ctx.Done()
	return nil
}

func parseOrGenerateProjectID(s string) (wire.ProjectID, error) {
	var id uuid.UUID
	var err error
	if s == "" {
		id = uuid.New()
	} else {
		id, err = uuid.Parse(s)
		if err != nil {
			return wire.ProjectID{}, err
		}
	}
	var out wire.ProjectID
	copy(out[:], id[:])
	return out, nil
}
