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
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// RootCmd is the main entry point. Exported so it can be extended or
// embedded without touching core functionality.
var RootCmd = &cobra.Command{
	Use:   "quadrosyncd",
	Short: "run and inspect a quadrosync node",
}

var (
	rootConfigFlag   string
	rootHostnameFlag string
)

func init() {
	RootCmd.PersistentFlags().StringVarP(&rootConfigFlag, "config", "c", "", "settings YAML file (optional; falls back to built-in defaults)")
	RootCmd.PersistentFlags().StringVar(&rootHostnameFlag, "hostname", "", "override this node's hostname identity")
}

// Execute is the CLI entry point.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
