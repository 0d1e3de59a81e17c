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

// Package telemetry measures per-peer network quality: RTT, jitter, loss
// and trend, with adaptive ping cadence. Grounded on the sliding-window
// idiom of facebook/time's sptp/client.slidingWindow. The "stability"
// subscore is a 0-100 value the caller of Evaluate supplies, and
// eclesh/welford provides numerically stable running variance instead of
// a hand-rolled sum-of-squares.
package telemetry

import (
	"math"
	"sync"
	"time"

	"github.com/eclesh/welford"
	log "github.com/sirupsen/logrus"
)

const (
	ringSize           = 100
	timeSeriesRingSize = 300
	defaultMinInterval = 200 * time.Millisecond
	defaultMaxInterval = 5 * time.Second
	outlierK           = 3.0 // median + k*MAD threshold
)

// PingTimeout is how long a pending ping request is kept before being
// counted as loss and evicted.
const PingTimeout = 2 * time.Second

// TimeSeriesSample is one point in the bounded latency time-series.
type TimeSeriesSample struct {
	Timestamp time.Time
	RTT       time.Duration
	Jitter    time.Duration
}

// Trend summarizes recent RTT direction and volatility.
type Trend struct {
	ShortTerm      float64 // positive: worsening, negative: improving
	LongTerm       float64
	Volatility     float64
	TimeSinceWorst time.Duration
	TimeSinceBest  time.Duration
}

// Stats is the full per-peer latency picture exposed by
// get_latency_stats.
type Stats struct {
	Min, Max, Avg, Current time.Duration
	Stddev                 time.Duration
	Jitter                 time.Duration
	P50, P95, P99          time.Duration
	LostPackets            int64
	OutliersDetected       int64
	Trend                  Trend
}

// QualityBand is the textual banding of a 0-100 quality score.
type QualityBand string

// Quality bands.
const (
	BandExcellent QualityBand = "Excellent"
	BandGood      QualityBand = "Good"
	BandFair      QualityBand = "Fair"
	BandPoor      QualityBand = "Poor"
)

// Quality is one network-quality evaluation.
type Quality struct {
	Score float64
	Band  QualityBand
}

func bandFor(score float64) QualityBand {
	switch {
	case score >= 85:
		return BandExcellent
	case score >= 70:
		return BandGood
	case score >= 50:
		return BandFair
	default:
		return BandPoor
	}
}

// pendingPing is one in-flight request awaiting a response.
type pendingPing struct {
	sentAtMono int64
	sendTS     uint64
}

// peerTelemetry is the mutable per-peer state backing Stats/Quality.
type peerTelemetry struct {
	rttRing    *boundedRing
	jitterRing *boundedRing
	tsRing     []TimeSeriesSample

	variance *welford.Stats

	min, max, current time.Duration
	lastRTT           time.Duration
	haveLastRTT       bool

	lostPackets      int64
	outliersDetected int64

	worstRTT     time.Duration
	bestRTT      time.Duration
	worstAt      time.Time
	bestAt       time.Time

	consecutiveTimeouts int
	interval            time.Duration

	pending map[uint32]pendingPing

	lastQualityScore float64
	haveQuality      bool
}

func newPeerTelemetry(minInterval time.Duration) *peerTelemetry {
	return &peerTelemetry{
		rttRing:    newBoundedRing(ringSize),
		jitterRing: newBoundedRing(ringSize),
		variance:   welford.New(),
		pending:    map[uint32]pendingPing{},
		interval:   minInterval,
	}
}

// Pinger is the narrow capability Telemetry needs to emit probes; the
// real implementation lives in package facade, kept here as an interface so
// tests can supply a mock (go.uber.org/mock) without a live socket.
type Pinger interface {
	SendPing(peerIdentity string, seq uint32, sendTSMicro uint64) error
}

// Config tunes sampling cadence and outlier filtering.
type Config struct {
	MinInterval     time.Duration
	MaxInterval     time.Duration
	OutlierFilterOn bool
	QualityChangeThreshold float64
}

// DefaultConfig returns the default cadence and filtering settings.
func DefaultConfig() Config {
	return Config{
		MinInterval:            defaultMinInterval,
		MaxInterval:            defaultMaxInterval,
		OutlierFilterOn:        true,
		QualityChangeThreshold: 15,
	}
}

// StateChange is emitted when a peer's quality assessment crosses the
// configured threshold.
type StateChange struct {
	PeerIdentity string
	Previous     Quality
	Current      Quality
}

// Telemetry tracks RTT/jitter/loss/trend for every peer being measured.
// It is owned exclusively by the protocol task; no method is
// safe for concurrent use except where noted.
type Telemetry struct {
	mu   sync.Mutex
	cfg  Config
	pinger Pinger
	peers  map[string]*peerTelemetry
	onStateChange func(StateChange)
}

// New returns a Telemetry using pinger to emit probes.
func New(cfg Config, pinger Pinger) *Telemetry {
	return &Telemetry{cfg: cfg, pinger: pinger, peers: map[string]*peerTelemetry{}}
}

// OnStateChange registers a callback invoked whenever a peer's quality
// crosses the configured change threshold.
func (t *Telemetry) OnStateChange(fn func(StateChange)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onStateChange = fn
}

// StartMeasurement begins tracking a peer.
func (t *Telemetry) StartMeasurement(peerIdentity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.peers[peerIdentity]; ok {
		return
	}
	t.peers[peerIdentity] = newPeerTelemetry(t.cfg.MinInterval)
}

// StopMeasurement stops tracking a peer (facade's stop_latency_measurement).
func (t *Telemetry) StopMeasurement(peerIdentity string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.peers, peerIdentity)
}

// Interval returns the current adaptive ping interval for a peer, or
// cfg.MinInterval if the peer isn't tracked.
func (t *Telemetry) Interval(peerIdentity string) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	if pt, ok := t.peers[peerIdentity]; ok {
		return pt.interval
	}
	return t.cfg.MinInterval
}

// SendPing emits a PingRequest for peerIdentity if tracked, recording the
// pending request keyed by sequence.
func (t *Telemetry) SendPing(peerIdentity string, seq uint32, nowMono int64, sendTSMicro uint64) error {
	t.mu.Lock()
	pt, ok := t.peers[peerIdentity]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	pt.pending[seq] = pendingPing{sentAtMono: nowMono, sendTS: sendTSMicro}
	t.mu.Unlock()
	return t.pinger.SendPing(peerIdentity, seq, sendTSMicro)
}

// OnPingResponse records the RTT for a completed ping and updates all
// derived stats. nowMono/nowTSMicro are the local clock at receipt; the
// RTT is nowTSMicro minus echoedSendTSMicro.
func (t *Telemetry) OnPingResponse(peerIdentity string, seq uint32, nowMono int64, echoedSendTSMicro uint64, nowTSMicro uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pt, ok := t.peers[peerIdentity]
	if !ok {
		return
	}
	pending, ok := pt.pending[seq]
	if !ok {
		return
	}
	delete(pt.pending, seq)

	rtt := time.Duration(nowTSMicro-echoedSendTSMicro) * time.Microsecond
	t.recordSample(pt, rtt)
	t.adjustCadence(pt, false)
	t.maybeNotify(peerIdentity, pt)
}

// SweepTimeouts evicts ping requests older than PingTimeout, counting
// each as loss.
func (t *Telemetry) SweepTimeouts(nowMono int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for identity, pt := range t.peers {
		for seq, p := range pt.pending {
			if time.Duration(nowMono-p.sentAtMono)*time.Microsecond > PingTimeout {
				delete(pt.pending, seq)
				pt.lostPackets++
				t.adjustCadence(pt, true)
			}
		}
		_ = identity
	}
}

func (t *Telemetry) recordSample(pt *peerTelemetry, rtt time.Duration) {
	ms := float64(rtt.Microseconds()) / 1000.0

	if !pt.haveLastRTT || rtt < pt.min || pt.min == 0 {
		if !pt.haveLastRTT {
			pt.min, pt.max = rtt, rtt
		}
	}
	if !pt.haveLastRTT {
		pt.min, pt.max = rtt, rtt
		pt.worstRTT, pt.bestRTT = rtt, rtt
		pt.worstAt, pt.bestAt = time.Now(), time.Now()
	} else {
		if rtt < pt.min {
			pt.min = rtt
		}
		if rtt > pt.max {
			pt.max = rtt
		}
		if rtt > pt.worstRTT {
			pt.worstRTT, pt.worstAt = rtt, time.Now()
		}
		if rtt < pt.bestRTT {
			pt.bestRTT, pt.bestAt = rtt, time.Now()
		}
	}
	pt.current = rtt

	if pt.haveLastRTT {
		jitter := rtt - pt.lastRTT
		if jitter < 0 {
			jitter = -jitter
		}
		pt.jitterRing.add(float64(jitter.Microseconds()))
	}
	pt.lastRTT = rtt
	pt.haveLastRTT = true

	// Outlier filtering: accept into steady-state stats unless beyond
	// k*MAD from the median; always counted but excluded from rttRing /
	// welford variance when rejected.
	accept := true
	if t.cfg.OutlierFilterOn {
		vals := pt.rttRing.values()
		if len(vals) >= 8 {
			median := pt.rttRing.median()
			mad := pt.rttRing.mad(median)
			threshold := median + outlierK*mad
			if ms > threshold && mad > 0 {
				accept = false
				pt.outliersDetected++
			}
		}
	}
	if accept {
		pt.rttRing.add(ms)
		pt.variance.Add(ms)
	}

	var lastJitter time.Duration
	if jv := pt.jitterRing.values(); len(jv) > 0 {
		lastJitter = time.Duration(jv[len(jv)-1]) * time.Microsecond
	}
	pt.tsRing = append(pt.tsRing, TimeSeriesSample{
		Timestamp: time.Now(),
		RTT:       rtt,
		Jitter:    lastJitter,
	})
	if len(pt.tsRing) > timeSeriesRingSize {
		pt.tsRing = pt.tsRing[len(pt.tsRing)-timeSeriesRingSize:]
	}
}

func (t *Telemetry) adjustCadence(pt *peerTelemetry, timedOut bool) {
	if timedOut {
		pt.consecutiveTimeouts++
	} else {
		pt.consecutiveTimeouts = 0
	}
	degrading := pt.consecutiveTimeouts >= 2
	if degrading {
		pt.interval = pt.interval * 9 / 10
		if pt.interval < t.cfg.MinInterval {
			pt.interval = t.cfg.MinInterval
		}
	} else {
		pt.interval = pt.interval * 11 / 10
		if pt.interval > t.cfg.MaxInterval {
			pt.interval = t.cfg.MaxInterval
		}
	}
}

// Get returns the current Stats snapshot for a peer.
func (t *Telemetry) Get(peerIdentity string) (Stats, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pt, ok := t.peers[peerIdentity]
	if !ok {
		return Stats{}, false
	}
	return t.snapshot(pt), true
}

func (t *Telemetry) snapshot(pt *peerTelemetry) Stats {
	avgMs := pt.variance.Mean()
	stddevMs := pt.variance.Stddev()
	jitterVals := pt.jitterRing.values()
	var jitterSum float64
	for _, v := range jitterVals {
		jitterSum += v
	}
	var jitterMean float64
	if len(jitterVals) > 0 {
		jitterMean = jitterSum / float64(len(jitterVals))
	}

	return Stats{
		Min:              pt.min,
		Max:              pt.max,
		Avg:              time.Duration(avgMs*1000) * time.Nanosecond,
		Current:          pt.current,
		Stddev:           time.Duration(stddevMs*1000) * time.Nanosecond,
		Jitter:           time.Duration(jitterMean*1000) * time.Nanosecond,
		P50:              msToDuration(pt.rttRing.percentile(50)),
		P95:              msToDuration(pt.rttRing.percentile(95)),
		P99:              msToDuration(pt.rttRing.percentile(99)),
		LostPackets:      pt.lostPackets,
		OutliersDetected: pt.outliersDetected,
		Trend:            t.trend(pt),
	}
}

func msToDuration(ms float64) time.Duration {
	if math.IsNaN(ms) {
		return 0
	}
	return time.Duration(ms*1000) * time.Nanosecond
}

// trend computes short/long-term slope (linear regression over the last
// 10 / last 60 samples respectively) and volatility.
func (t *Telemetry) trend(pt *peerTelemetry) Trend {
	vals := pt.rttRing.values()
	short := slope(lastN(vals, 10))
	long := slope(lastN(vals, 60))
	vol := stddev(vals)

	tr := Trend{ShortTerm: short, LongTerm: long, Volatility: vol}
	if !pt.worstAt.IsZero() {
		tr.TimeSinceWorst = time.Since(pt.worstAt)
	}
	if !pt.bestAt.IsZero() {
		tr.TimeSinceBest = time.Since(pt.bestAt)
	}
	return tr
}

func lastN(vals []float64, n int) []float64 {
	if len(vals) <= n {
		return vals
	}
	return vals[len(vals)-n:]
}

// slope fits y = a + b*x over evenly spaced x = 0..n-1 and returns b.
func slope(vals []float64) float64 {
	n := len(vals)
	if n < 2 {
		return 0
	}
	var sumX, sumY, sumXY, sumXX float64
	for i, v := range vals {
		x := float64(i)
		sumX += x
		sumY += v
		sumXY += x * v
		sumXX += x * x
	}
	fn := float64(n)
	denom := fn*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (fn*sumXY - sumX*sumY) / denom
}

func stddev(vals []float64) float64 {
	if len(vals) < 2 {
		return 0
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	mean := sum / float64(len(vals))
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	return math.Sqrt(sq / float64(len(vals)))
}

// Evaluate computes a 0-100 quality score for a peer from latency,
// jitter, loss and stability (the caller-supplied 0-100 stabilityScore),
// notifying OnStateChange if the score moves past
// cfg.QualityChangeThreshold since the last evaluation.
func (t *Telemetry) Evaluate(peerIdentity string, stabilityScore float64) (Quality, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pt, ok := t.peers[peerIdentity]
	if !ok {
		return Quality{}, false
	}
	s := t.snapshot(pt)

	latencyScore := scoreInverse(float64(s.Avg.Milliseconds()), 10, 200)
	jitterScore := scoreInverse(float64(s.Jitter.Milliseconds()), 2, 50)
	lossScore := scoreInverse(float64(s.LostPackets), 0, 20)
	score := 0.4*latencyScore + 0.25*jitterScore + 0.25*lossScore + 0.1*stabilityScore
	score = clampScore(score)

	q := Quality{Score: score, Band: bandFor(score)}
	if pt.haveQuality && math.Abs(score-pt.lastQualityScore) >= t.cfg.QualityChangeThreshold {
		prev := Quality{Score: pt.lastQualityScore, Band: bandFor(pt.lastQualityScore)}
		if t.onStateChange != nil {
			t.onStateChange(StateChange{PeerIdentity: peerIdentity, Previous: prev, Current: q})
		}
	}
	pt.lastQualityScore = score
	pt.haveQuality = true
	return q, true
}

// scoreInverse maps v linearly onto [0,100], where v<=good is 100 and
// v>=bad is 0.
func scoreInverse(v, good, bad float64) float64 {
	if v <= good {
		return 100
	}
	if v >= bad {
		return 0
	}
	return 100 * (bad - v) / (bad - good)
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

var _ = log.Debugf
