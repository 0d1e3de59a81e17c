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
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestSendPingIgnoresUntrackedPeer(t *testing.T) {
	ctrl := gomock.NewController(t)
	pinger := NewMockPinger(ctrl)
	tel := New(DefaultConfig(), pinger)

	require.NoError(t, tel.SendPing("unknown", 1, 0, 0))
}

func TestSendPingRecordsPendingAndCallsPinger(t *testing.T) {
	ctrl := gomock.NewController(t)
	pinger := NewMockPinger(ctrl)
	pinger.EXPECT().SendPing("peer-a", uint32(1), uint64(1000)).Return(nil)

	tel := New(DefaultConfig(), pinger)
	tel.StartMeasurement("peer-a")

	require.NoError(t, tel.SendPing("peer-a", 1, 0, 1000))
}

func TestOnPingResponseRecordsRTTAndStats(t *testing.T) {
	ctrl := gomock.NewController(t)
	pinger := NewMockPinger(ctrl)
	pinger.EXPECT().SendPing(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	tel := New(DefaultConfig(), pinger)
	tel.StartMeasurement("peer-a")

	require.NoError(t, tel.SendPing("peer-a", 1, 0, 1000))
	tel.OnPingResponse("peer-a", 1, 20_000, 1000, 21_000)

	stats, ok := tel.Get("peer-a")
	require.True(t, ok)
	require.Equal(t, time.Millisecond*20, stats.Current)
	require.Equal(t, time.Millisecond*20, stats.Min)
	require.Equal(t, time.Millisecond*20, stats.Max)
}

func TestSweepTimeoutsCountsLossAndAdjustsCadence(t *testing.T) {
	ctrl := gomock.NewController(t)
	pinger := NewMockPinger(ctrl)
	pinger.EXPECT().SendPing(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	tel := New(DefaultConfig(), pinger)
	tel.StartMeasurement("peer-a")
	before := tel.Interval("peer-a")

	require.NoError(t, tel.SendPing("peer-a", 1, 0, 1000))
	tel.SweepTimeouts(int64(PingTimeout/time.Microsecond) + 1)

	stats, ok := tel.Get("peer-a")
	require.True(t, ok)
	require.EqualValues(t, 1, stats.LostPackets)
	require.Less(t, tel.Interval("peer-a"), before)
}

func TestEvaluateScoresGoodLinkAsExcellent(t *testing.T) {
	ctrl := gomock.NewController(t)
	pinger := NewMockPinger(ctrl)
	pinger.EXPECT().SendPing(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	tel := New(DefaultConfig(), pinger)
	tel.StartMeasurement("peer-a")

	for i := uint32(0); i < 10; i++ {
		require.NoError(t, tel.SendPing("peer-a", i, int64(i)*1000, uint64(i)*1000))
		tel.OnPingResponse("peer-a", i, int64(i)*1000+2000, uint64(i)*1000, uint64(i)*1000+2000)
	}

	quality, ok := tel.Evaluate("peer-a", 100)
	require.True(t, ok)
	require.Equal(t, BandExcellent, quality.Band)
	require.Greater(t, quality.Score, 85.0)
}

func TestEvaluateNotifiesOnStateChange(t *testing.T) {
	ctrl := gomock.NewController(t)
	pinger := NewMockPinger(ctrl)
	pinger.EXPECT().SendPing(gomock.Any(), gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	tel := New(DefaultConfig(), pinger)
	tel.StartMeasurement("peer-a")

	var changes []StateChange
	tel.OnStateChange(func(sc StateChange) { changes = append(changes, sc) })

	for i := uint32(0); i < 5; i++ {
		require.NoError(t, tel.SendPing("peer-a", i, int64(i)*1000, uint64(i)*1000))
		tel.OnPingResponse("peer-a", i, int64(i)*1000+2000, uint64(i)*1000, uint64(i)*1000+2000)
	}
	_, ok := tel.Evaluate("peer-a", 100)
	require.True(t, ok)

	require.NoError(t, tel.SendPing("peer-a", 100, 5000, 5000))
	tel.OnPingResponse("peer-a", 100, 5000+300_000, 5000, 5000+300_000)
	_, ok = tel.Evaluate("peer-a", 0)
	require.True(t, ok)

	require.NotEmpty(t, changes)
}
