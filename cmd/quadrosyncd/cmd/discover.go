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
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/quadrosync/engine/facade"
	"github.com/quadrosync/engine/settings"
	"github.com/quadrosync/engine/transport"
	"github.com/quadrosync/engine/wire"
)

var (
	discoverBroadcastPortFlag int
	discoverBroadcastAddrFlag string
	discoverWaitFlag          time.Duration
	discoverProjectIDFlag     string
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "broadcast a discovery probe and print peers that respond",
	RunE:  runDiscover,
}

func init() {
	RootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().IntVar(&discoverBroadcastPortFlag, "broadcast-port", 5700, "UDP port to broadcast the discovery probe on")
	discoverCmd.Flags().StringVar(&discoverBroadcastAddrFlag, "broadcast-addr", "255.255.255.255", "LAN broadcast address")
	discoverCmd.Flags().DurationVar(&discoverWaitFlag, "wait", 2*time.Second, "how long to wait for responses")
	discoverCmd.Flags().StringVar(&discoverProjectIDFlag, "project-id", "", "project UUID to scope discovery to; generated if empty")
}

func runDiscover(_ *cobra.Command, _ []string) error {
	hostname := rootHostnameFlag
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return err
		}
		hostname = h + "-probe"
	}

	var projectID wire.ProjectID
	if discoverProjectIDFlag != "" {
		id, err := uuid.Parse(discoverProjectIDFlag)
		if err != nil {
			return err
		}
		copy(projectID[:], id[:])
	} else {
		id := uuid.New()
		copy(projectID[:], id[:])
	}

	f := facade.New(facade.Config{
		Hostname:  hostname,
		ProjectID: projectID,
		Transport: transport.Config{
			BroadcastPort: discoverBroadcastPortFlag,
			UnicastPort:   0,
			BroadcastAddr: discoverBroadcastAddrFlag,
			QueueSize:     64,
		},
		Initial: settings.Default(),
	})

	ctx, cancel := context.WithTimeout(context.Background(), discoverWaitFlag+time.Second)
	defer cancel()
	if err := f.Initialize(ctx); err != nil {
		return err
	}
	defer f.Shutdown()

	f.DiscoverServers()
	time.Sleep(discoverWaitFlag)

	peers := f.GetDiscoveredServers()
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"identity", "address", "priority", "term heard"})
	for _, p := range peers {
		table.Append([]string{
			p.Identity,
			fmt.Sprintf("%s:%d", p.IP, p.Port),
			fmt.Sprintf("%.2f", p.Priority),
			fmt.Sprintf("%d", p.ElectionTermHeard),
		})
	}
	table.Render()
	return nil
}
