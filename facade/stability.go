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

package facade

import (
	"os"

	"github.com/shirou/gopsutil/process"
	log "github.com/sirupsen/logrus"
)

// stabilitySampler folds host CPU pressure into the telemetry quality
// score's stability subscore, the same process-sampling shape
// sptp/client.SysStats uses for diagnostics, reduced here to the one
// number Evaluate needs.
type stabilitySampler struct {
	proc *process.Process
}

func newStabilitySampler() *stabilitySampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Warnf("facade: stability sampler unavailable: %v", err)
		return &stabilitySampler{}
	}
	return &stabilitySampler{proc: proc}
}

// Sample returns a 0-100 stability score: 100 when the host CPU isn't
// under pressure from this process, degrading as process CPU percent
// rises past 50%.
func (s *stabilitySampler) Sample() float64 {
	if s.proc == nil {
		return 100
	}
	pct, err := s.proc.Percent(0)
	if err != nil {
		return 100
	}
	if pct <= 50 {
		return 100
	}
	if pct >= 100 {
		return 0
	}
	return 100 * (100 - pct) / 50
}
