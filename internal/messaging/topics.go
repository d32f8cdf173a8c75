package messaging

// Topic names used when the configuration does not override them.
const (
	// TopicShares carries one ShareMessage per share lifecycle event.
	TopicShares = "miner.shares"

	// StatsTopicSuffix is appended to the share topic for stats snapshots.
	StatsTopicSuffix = ".stats"
)

// StatsTopic returns the stats topic paired with a share topic.
func StatsTopic(shareTopic string) string {
	return shareTopic + StatsTopicSuffix
}
