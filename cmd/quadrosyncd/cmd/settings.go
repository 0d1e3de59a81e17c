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
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	yaml "gopkg.in/yaml.v2"

	"github.com/quadrosync/engine/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "inspect or edit a node's persisted settings file",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "print the settings persisted at --settings-path",
	RunE:  runSettingsGet,
}

var (
	settingsPathFlag string
	settingsSetFlags map[string]string
)

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "edit the settings persisted at --settings-path and re-save them",
	RunE:  runSettingsSet,
}

func init() {
	RootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsSetCmd)

	settingsCmd.PersistentFlags().StringVar(&settingsPathFlag, "settings-path", "", "path to the persisted settings file (required)")

	settingsSetCmd.Flags().Float32Var(&settingsSetTargetFPS, "target-fps", 0, "new target fps; 0 leaves it unchanged")
	settingsSetCmd.Flags().Float32Var(&settingsSetMasterPriority, "master-priority", -1, "new master priority in [0,1]; negative leaves it unchanged")
	settingsSetCmd.Flags().BoolVar(&settingsSetForceMaster, "force-master", false, "force this node to leader")
	settingsSetCmd.Flags().BoolVar(&settingsSetClearForceMaster, "clear-force-master", false, "release a forced leadership")
}

var (
	settingsSetTargetFPS        float32
	settingsSetMasterPriority   float32
	settingsSetForceMaster      bool
	settingsSetClearForceMaster bool
)

func requireSettingsPath(path string) (settings.GlobalSettings, error) {
	if path == "" {
		return settings.GlobalSettings{}, fmt.Errorf("quadrosyncd: --settings-path is required")
	}
	return settings.Load(path)
}

func runSettingsGet(_ *cobra.Command, _ []string) error {
	s, err := requireSettingsPath(settingsPathFlag)
	if err != nil {
		return err
	}
	out, err := yaml.Marshal(s)
	if err != nil {
		return err
	}
	fmt.Println(color.CyanString("# %s", settingsPathFlag))
	fmt.Print(string(out))

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"field", "value"})
	table.Append([]string{"version", fmt.Sprintf("%d", s.Version)})
	table.Append([]string{"last_updated_by", s.LastUpdatedBy})
	table.Render()
	return nil
}

func runSettingsSet(_ *cobra.Command, _ []string) error {
	s, err := requireSettingsPath(settingsPathFlag)
	if err != nil {
		return err
	}
	next := s
	if settingsSetTargetFPS > 0 {
		next.TargetFPS = settingsSetTargetFPS
	}
	if settingsSetMasterPriority >= 0 {
		next.MasterPriority = settingsSetMasterPriority
	}
	if settingsSetForceMaster {
		next.ForceMaster = true
	}
	if settingsSetClearForceMaster {
		next.ForceMaster = false
	}
	if err := settings.Validate(next); err != nil {
		return err
	}
	next.Version = s.Version + 1
	if err := settings.Save(settingsPathFlag, next); err != nil {
		return err
	}
	log.Infof("quadrosyncd: saved settings version %d to %s", next.Version, settingsPathFlag)
	return nil
}
