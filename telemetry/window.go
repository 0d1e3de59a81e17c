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

package telemetry

import (
	"container/ring"
	"math"
	"sort"
)

// boundedRing is a fixed-capacity float64 ring buffer, the same shape as
// facebook/time's sptp/client.slidingWindow, generalized here with a
// percentile accessor for latency stats.
type boundedRing struct {
	size    int
	count   int
	samples *ring.Ring
}

func newBoundedRing(size int) *boundedRing {
	if size < 1 {
		size = 1
	}
	return &boundedRing{size: size, samples: ring.New(size)}
}

func (w *boundedRing) add(v float64) {
	w.samples.Value = v
	w.samples = w.samples.Next()
	if w.count < w.size {
		w.count++
	}
}

func (w *boundedRing) values() []float64 {
	out := make([]float64, 0, w.count)
	r := w.samples
	for i := 0; i < w.size; i++ {
		r = r.Prev()
		if r.Value != nil {
			out = append(out, r.Value.(float64))
		}
	}
	return out
}

func (w *boundedRing) percentile(p float64) float64 {
	vals := w.values()
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	idx := int(p / 100 * float64(len(vals)-1))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(vals) {
		idx = len(vals) - 1
	}
	return vals[idx]
}

func (w *boundedRing) median() float64 {
	vals := w.values()
	if len(vals) == 0 {
		return math.NaN()
	}
	sort.Float64s(vals)
	n := len(vals)
	if n%2 == 0 {
		return (vals[n/2-1] + vals[n/2]) / 2
	}
	return vals[n/2]
}

// mad returns the median absolute deviation of the ring around the
// given center, used by outlier filtering.
func (w *boundedRing) mad(center float64) float64 {
	vals := w.values()
	if len(vals) == 0 {
		return 0
	}
	devs := make([]float64, len(vals))
	for i, v := range vals {
		devs[i] = math.Abs(v - center)
	}
	sort.Float64s(devs)
	n := len(devs)
	if n%2 == 0 {
		return (devs[n/2-1] + devs[n/2]) / 2
	}
	return devs[n/2]
}
