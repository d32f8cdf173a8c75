package influx

import (
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/stretchr/testify/assert"

	"github.com/bardlex/gompminer/internal/reporting"
)

func TestSharePoint(t *testing.T) {
	at := time.Unix(1700000000, 0)
	p := SharePoint(reporting.ShareEvent{
		Pool:             "pool.example.com:3333",
		User:             "worker1",
		Status:           reporting.StatusAccepted,
		Difficulty:       12.5,
		TargetDifficulty: 8,
		At:               at,
	})

	line := write.PointToLineProtocol(p, time.Second)
	assert.True(t, strings.HasPrefix(line, "shares,"), line)
	assert.Contains(t, line, "status=accepted")
	assert.Contains(t, line, "user=worker1")
	assert.Contains(t, line, "block=false")
	assert.Contains(t, line, "difficulty=12.5")
	assert.Contains(t, line, "target_difficulty=8")
	assert.Contains(t, line, "1700000000")
}

func TestHashratePoint(t *testing.T) {
	p := HashratePoint(reporting.StatsSnapshot{
		User:           "worker1",
		Hashrate:       2048,
		SharesAccepted: 7,
		At:             time.Unix(1700000000, 0),
	})

	line := write.PointToLineProtocol(p, time.Second)
	assert.True(t, strings.HasPrefix(line, "hashrate,"), line)
	assert.Contains(t, line, "hashrate=2048")
	assert.Contains(t, line, "shares_accepted=7i")
}
