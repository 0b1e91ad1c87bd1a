package redis

import (
	"fmt"
	"time"
)

const (
	// Latest result per order: visualization:latest:{order_id} -> VisualizationResult JSON
	KeyLatestVisualization = "visualization:latest:%s"

	// Queued job status: visualization:job:{job_id} -> JobState JSON
	KeyJobState = "visualization:job:%s"

	// Cancel flag for a queued or running job: visualization:job:{job_id}:cancel -> "1"
	KeyJobCancel = "visualization:job:%s:cancel"

	// Pending jobs, LPUSH in / BRPOP out
	KeyVisualizationQueue = "visualizations:queue"
)

var (
	TTLLatest   = 7 * 24 * time.Hour
	TTLJobState = 24 * time.Hour
)

func latestKey(orderID string) string { return fmt.Sprintf(KeyLatestVisualization, orderID) }

func jobKey(jobID string) string { return fmt.Sprintf(KeyJobState, jobID) }

func cancelKey(jobID string) string { return fmt.Sprintf(KeyJobCancel, jobID) }
