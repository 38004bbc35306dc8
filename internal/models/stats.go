package models

import "time"

type QueueStats struct {
	EventID           string              `json:"event_id"`
	CountsByStatus    map[QueueStatus]int `json:"counts_by_status"`
	Total             int                 `json:"total"`
	AvgWaitTime       time.Duration       `json:"avg_wait_time"`
	AvgProcessingTime time.Duration       `json:"avg_processing_time"`
}

func (s *QueueStats) Count(statuses ...QueueStatus) int {
	n := 0
	for _, st := range statuses {
		n += s.CountsByStatus[st]
	}
	return n
}

type SessionStats struct {
	EventID        string                `json:"event_id"`
	CountsByStatus map[SessionStatus]int `json:"counts_by_status"`
	Total          int                   `json:"total"`
	AvgExtensions  float64               `json:"avg_extensions"`
}
