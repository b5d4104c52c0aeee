package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionDeadlineKey returns the cache key holding a session's hard deadline (unix ms)
func (r *CacheKeyStruct) SessionDeadlineKey(sessionID string) string {
	return fmt.Sprintf("session:%s:deadline", sessionID)
}

// AssessmentPaperKey returns the cache key for a published assessment's student paper
func (r *CacheKeyStruct) AssessmentPaperKey(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:paper", assessmentID)
}

// AssessmentMonitorChannel returns the Redis PubSub channel for live monitoring of an assessment
func (r *CacheKeyStruct) AssessmentMonitorChannel(assessmentID string) string {
	return fmt.Sprintf("assessment:%s:monitor", assessmentID)
}

// SessionUpdatesChannel returns the Redis PubSub channel carrying one session's lifecycle updates to its student
func (r *CacheKeyStruct) SessionUpdatesChannel(sessionID string) string {
	return fmt.Sprintf("session:%s:updates", sessionID)
}

// EventRateKey returns the rate limiter bucket for a user's event reports
func (r *CacheKeyStruct) EventRateKey(userID int) string {
	return fmt.Sprintf("ratelimit:events:%d", userID)
}

var CacheKey = NewCacheKeyStruct()
