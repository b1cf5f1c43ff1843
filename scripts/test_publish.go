// +build ignore

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ComputeTask mirrors internal/domain.ComputeTask; kept as a local copy so
// this script stays a standalone `go run` target outside the module build.
type ComputeTask struct {
	TaskID          string                 `json:"task_id"`
	AreaType        string                 `json:"area_type"`
	AreaID          int                    `json:"area_id"`
	StartYear       int                    `json:"start_year"`
	EndYear         int                    `json:"end_year"`
	ConfigOverrides map[string]interface{} `json:"config_overrides,omitempty"`
	DefaultsVersion string                 `json:"defaults_version"`
	GeometryHash    string                 `json:"geometry_hash"`
	TilePathKey     string                 `json:"tile_path_key"`
	MaxZoom         int                    `json:"max_zoom"`
}

func main() {
	redisAddr := flag.String("redis", "localhost:6379", "Redis address for streams")
	areaID := flag.Int("area-id", 1, "administrative area id to enqueue")
	flag.Parse()

	client := redis.NewClient(&redis.Options{
		Addr: *redisAddr,
	})
	defer client.Close()

	ctx := context.Background()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	taskID := uuid.New().String()
	task := ComputeTask{
		TaskID:          taskID,
		AreaType:        "region",
		AreaID:          *areaID,
		StartYear:       2015,
		EndYear:         2023,
		DefaultsVersion: "v1",
		GeometryHash:    "manual-test",
		TilePathKey:     fmt.Sprintf("region/%d/2015-2023", *areaID),
		MaxZoom:         12,
	}

	data, err := json.Marshal(task)
	if err != nil {
		log.Fatalf("failed to marshal task: %v", err)
	}

	result, err := client.XAdd(ctx, &redis.XAddArgs{
		Stream: "stream:erosion:compute",
		Values: map[string]interface{}{
			"data": string(data),
		},
	}).Result()
	if err != nil {
		log.Fatalf("failed to publish task: %v", err)
	}

	fmt.Printf("task published: stream=stream:erosion:compute id=%s task_id=%s\n", result, taskID)
	fmt.Printf("waiting for a callback on stream:erosion:callback...\n")

	client.XGroupCreateMkStream(ctx, "stream:erosion:callback", "test-consumer", "$")

	timeout := time.After(5 * time.Minute)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-timeout:
			fmt.Println("timeout waiting for callback")
			return
		case <-ticker.C:
			results, err := client.XReadGroup(ctx, &redis.XReadGroupArgs{
				Group:    "test-consumer",
				Consumer: "manual",
				Streams:  []string{"stream:erosion:callback", ">"},
				Count:    10,
				Block:    0,
			}).Result()
			if err != nil && err != redis.Nil {
				continue
			}

			for _, stream := range results {
				for _, msg := range stream.Messages {
					dataStr, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}

					var event map[string]interface{}
					if err := json.Unmarshal([]byte(dataStr), &event); err != nil {
						continue
					}

					if event["task_id"] == taskID {
						pretty, _ := json.MarshalIndent(event, "", "  ")
						fmt.Printf("callback received:\n%s\n", pretty)
						return
					}
				}
			}
		}
	}
}
