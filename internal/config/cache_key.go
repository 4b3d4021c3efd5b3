package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptSessionKey returns the key holding an attempt's persisted record
func (r *CacheKeyStruct) AttemptSessionKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:session", attemptID)
}

// ExamDefinitionKey returns the cache key for an exam's definition
func (r *CacheKeyStruct) ExamDefinitionKey(examID string) string {
	return fmt.Sprintf("exam:%s:definition", examID)
}

// AttemptDeadlineIndexKey is the sorted set of open attempts scored by deadline (epoch ms)
func (r *CacheKeyStruct) AttemptDeadlineIndexKey() string {
	return "attempts:deadlines"
}

// ExamMonitorChannel returns the Redis PubSub channel name for an exam monitor
func (r *CacheKeyStruct) ExamMonitorChannel(examID string) string {
	return fmt.Sprintf("exam:%s:monitor", examID)
}

var CacheKey = NewCacheKeyStruct()
