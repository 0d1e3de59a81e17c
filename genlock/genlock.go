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

// Package genlock detects whether hardware genlock (e.g. NVIDIA Quadro
// Sync) is present on the local host. Detection only: driving genlock
// hardware is out of scope.
package genlock

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// envVar forces detection to report true, for testing on hosts without
// genlock hardware.
const envVar = "QUADRO_SYNC_PRESENT"

// Detect reports whether genlock hardware is present: the environment
// variable QUADRO_SYNC_PRESENT=1 is checked first, falling back to a
// platform probe.
func Detect() bool {
	if os.Getenv(envVar) == "1" {
		log.Debugf("genlock: detected via %s", envVar)
		return true
	}
	return platformProbe()
}
