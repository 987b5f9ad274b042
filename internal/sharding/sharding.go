package sharding

import (
	"fmt"
	"hash/crc32"
)

// Partition maps key onto one of partitions buckets. The mapping is stable across processes.
func Partition(key string, partitions int) int {
	if partitions <= 1 {
		return 0
	}
	checksum := crc32.ChecksumIEEE([]byte(key))
	return int(checksum % uint32(partitions))
}

// Subject returns the NATS subject for one partition of topic.
// Format: {topic}.{partition}
func Subject(topic string, partition int) string {
	return fmt.Sprintf("%s.%d", topic, partition)
}

// SubjectFilter matches every partition of topic.
func SubjectFilter(topic string) string {
	return topic + ".>"
}
