// meetingctl is the operator CLI: migrate the database schema, inspect a
// meeting, and re-enqueue pipeline stages for meetings that got stuck.
//
// Usage:
//
//	meetingctl migrate
//	meetingctl status <meeting-id>
//	meetingctl redispatch <meeting-id>
//	meetingctl summarize <meeting-id>
package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"

	meetscribe "github.com/meetscribe/meetscribe"
	"github.com/meetscribe/meetscribe/broker"
	"github.com/meetscribe/meetscribe/config"
	"github.com/meetscribe/meetscribe/meetingstore"
	"github.com/meetscribe/meetscribe/schemas"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := meetscribe.NewDefaultLogger(cfg.Log.Level)
	logger.SetOutputType(schemas.LoggerOutputTypePretty)

	ctx := context.Background()
	store, err := meetingstore.New(cfg.Database.URL, logger)
	if err != nil {
		log.Fatalf("connect meeting store: %v", err)
	}

	switch os.Args[1] {
	case "migrate":
		if err := store.AutoMigrate(ctx); err != nil {
			log.Fatalf("migrate: %v", err)
		}
		fmt.Println("schema up to date")
	case "status":
		meeting := getMeeting(ctx, store)
		fmt.Printf("meeting   %s\n", meeting.ID)
		fmt.Printf("title     %s\n", meeting.Title)
		fmt.Printf("status    %s\n", meeting.Status)
		fmt.Printf("chunks    %d/%d transcribed\n", meeting.TranscribeDone, meeting.TranscribeTotal)
		if meeting.SummarizeTotal > 0 {
			fmt.Printf("summary   %d/%d parts\n", meeting.SummarizeDone, meeting.SummarizeTotal)
		}
		if meeting.ErrorMessage != nil {
			fmt.Printf("error     %s\n", *meeting.ErrorMessage)
		}
	case "redispatch":
		meeting := getMeeting(ctx, store)
		if meeting.AudioURL == nil {
			log.Fatalf("meeting %s has no audio url", meeting.ID)
		}
		publish(ctx, cfg, logger, broker.Message{
			RoutingKey: schemas.KeyTranscribeStart,
			Body: schemas.StartTranscribeMessage{
				MeetingID: meeting.ID.String(),
				AudioURL:  *meeting.AudioURL,
			},
		})
		fmt.Printf("re-enqueued transcription for meeting %s\n", meeting.ID)
	case "summarize":
		meeting := getMeeting(ctx, store)
		publish(ctx, cfg, logger, broker.Message{
			RoutingKey: schemas.KeySummarizeGenerate,
			Body:       schemas.SummarizeMessage{MeetingID: meeting.ID.String()},
		})
		fmt.Printf("re-enqueued summarization for meeting %s\n", meeting.ID)
	default:
		usage()
	}
}

func getMeeting(ctx context.Context, store *meetingstore.Store) *meetingstore.Meeting {
	if len(os.Args) < 3 {
		usage()
	}
	id, err := uuid.Parse(os.Args[2])
	if err != nil {
		log.Fatalf("invalid meeting id %q: %v", os.Args[2], err)
	}
	meeting, err := store.GetMeeting(ctx, id)
	if err != nil {
		log.Fatalf("load meeting %s: %v", id, err)
	}
	return meeting
}

func publish(ctx context.Context, cfg *config.Config, logger schemas.Logger, msg broker.Message) {
	client, err := broker.Connect(broker.Config{URL: cfg.Broker.URL, Logger: logger})
	if err != nil {
		log.Fatalf("connect broker: %v", err)
	}
	defer client.Close()
	if err := client.Publish(ctx, msg); err != nil {
		log.Fatalf("publish %s: %v", msg.RoutingKey, err)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: meetingctl migrate | status <id> | redispatch <id> | summarize <id>\n")
	os.Exit(2)
}
