package network

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMedianRTT(t *testing.T) {
	tests := []struct {
		name string
		rtts []int64
		want int64
	}{
		{name: "empty", rtts: nil, want: 0},
		{name: "odd", rtts: []int64{30, 10, 20}, want: 20},
		{name: "even", rtts: []int64{40, 10, 20, 30}, want: 25},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, medianRTT(tt.rtts))
		})
	}
}

func TestRemoveOutlierRTTs(t *testing.T) {
	assert.Equal(t, []int64{10, 12, 11}, removeOutlierRTTs([]int64{10, 12, 300, 11}))
	// small values are never outliers
	assert.Equal(t, []int64{1, 2, 15}, removeOutlierRTTs([]int64{1, 2, 15}))
}

func TestPingTracker(t *testing.T) {
	p := &pingTracker{}
	assert.Equal(t, 10.0, p.add(10))
	assert.Equal(t, 15.0, p.add(20))
	// outlier ignored
	assert.Equal(t, 15.0, p.add(500))

	for i := 0; i < 20; i++ {
		p.add(40)
	}
	assert.Len(t, p.recentRTTs, maxRecentRTTs)
	assert.Equal(t, 40.0, p.ping)

	p.reset()
	assert.Empty(t, p.recentRTTs)
}
