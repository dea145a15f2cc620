// Package messaging carries reservation commands between the intake gateway
// and the workflow processor over Redis streams. Commands are spread across a
// fixed set of partition topics keyed by reservation, so commands for the same
// reservation are always consumed in order by a single handler.
package messaging

import (
	"fmt"
	"hash/fnv"
)

const (
	// TopicPrefix is the stem of every partition topic. Partition i is
	// published to "reservation-commands.i".
	TopicPrefix = "reservation-commands"

	// PoisonTopic receives commands that exhausted their retries.
	PoisonTopic = "reservation-commands.poison"

	// ConsumerGroup is the Redis stream consumer group all partition
	// handlers join.
	ConsumerGroup = "reservation-engine.commands"

	// DefaultPartitions is the partition count used when none is configured.
	DefaultPartitions = 8
)

// PartitionTopic returns the topic name for a partition index.
func PartitionTopic(partition int) string {
	return fmt.Sprintf("%s.%d", TopicPrefix, partition)
}

// PartitionFor maps a routing key onto a partition. The mapping must stay
// stable for the lifetime of a reservation: every command carrying the same
// key lands on the same partition and therefore the same ordered handler.
func PartitionFor(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}

	h := fnv.New32a()
	h.Write([]byte(key))

	return int(h.Sum32() % uint32(partitions))
}
