package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/calebrhodes/photoflow-backend/internal/dispatch"
	"github.com/calebrhodes/photoflow-backend/internal/pipeline"
	"github.com/calebrhodes/photoflow-backend/internal/settings"
	"github.com/calebrhodes/photoflow-backend/pkg/config"
	"github.com/calebrhodes/photoflow-backend/pkg/db"
	"github.com/calebrhodes/photoflow-backend/pkg/enums"
	"github.com/calebrhodes/photoflow-backend/pkg/logger"
	"github.com/calebrhodes/photoflow-backend/pkg/pubsub"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "processctl"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "", "command: dispatch-batch|request-album|analyze|notify-upload|reset-stuck|status|settings-show|settings-set")

	album := flag.String("album", "", "album id (for request-album)")
	item := flag.String("item", "", "media item id (for analyze)")
	requester := flag.String("requester", "", "requesting user id")
	privileged := flag.Bool("privileged", false, "bypass the delegated batch cap")
	requested := flag.Int("requested", 0, "how many items to enqueue, 0 for the default")
	force := flag.Bool("force", false, "re-analyze completed items as well")

	autoUpload := flag.Bool("auto-upload", false, "process items as they are uploaded")
	scheduled := flag.Bool("scheduled", true, "run the nightly batch")
	batchSize := flag.Int("batch-size", 0, "items per scheduled batch")
	timeoutSeconds := flag.Int("timeout-seconds", 0, "per-item processing timeout")
	scheduleHour := flag.Int("hour", -1, "scheduled batch hour (0-23)")
	scheduleMinute := flag.Int("minute", -1, "scheduled batch minute (0-59)")
	delegatedLimit := flag.Int("delegated-limit", 0, "per-request cap for delegated users")

	flag.Parse()

	if *cmd == "" {
		fmt.Fprintln(os.Stderr, "missing -cmd")
		os.Exit(1)
	}

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "processctl",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithField(context.Background(), "cmd", *cmd)

	dbClient, err := db.New(ctx, cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	repo := pipeline.NewRepository(dbClient.DB())
	settingsService, err := settings.NewService(dbClient.DB(), cfg.Processing)
	requireResource(ctx, logg, "settings service", err)

	switch *cmd {
	case "status":
		counts, err := repo.StatusCounts(ctx)
		requireResource(ctx, logg, "status counts", err)
		for status, count := range counts {
			fmt.Printf("%-12s %d\n", status, count)
		}
		return

	case "reset-stuck":
		// Same abandonment window the runner uses when re-offering claims.
		snap, err := settingsService.Snapshot(ctx)
		requireResource(ctx, logg, "settings", err)
		moved, err := repo.ResetStuck(ctx, time.Now().UTC().Add(-pipeline.StalenessWindow(snap.Timeout)))
		requireResource(ctx, logg, "reset stuck", err)
		fmt.Println("items released:", moved)
		return

	case "settings-show":
		snap, err := settingsService.Snapshot(ctx)
		requireResource(ctx, logg, "settings", err)
		printSnapshot(snap)
		return

	case "settings-set":
		input := settings.UpdateInput{}
		flag.Visit(func(f *flag.Flag) {
			switch f.Name {
			case "auto-upload":
				input.AutoProcessOnUpload = autoUpload
			case "scheduled":
				input.ScheduledEnabled = scheduled
			case "batch-size":
				input.BatchSize = batchSize
			case "timeout-seconds":
				input.TimeoutSeconds = timeoutSeconds
			case "hour":
				input.ScheduleHour = scheduleHour
			case "minute":
				input.ScheduleMinute = scheduleMinute
			case "delegated-limit":
				input.DelegatedUserBatchLimit = delegatedLimit
			}
		})
		snap, err := settingsService.Update(ctx, input)
		requireResource(ctx, logg, "settings update", err)
		printSnapshot(snap)
		return
	}

	// The remaining commands publish jobs.
	pubsubClient, err := pubsub.NewClient(ctx, cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	dispatchService, err := dispatch.NewService(dispatch.ServiceParams{
		Publisher: dispatch.NewGCPPublisher(pubsubClient.JobsPublisher()),
		Repo:      repo,
		Settings:  settingsService,
		Logger:    logg,
	})
	requireResource(ctx, logg, "dispatch service", err)

	switch *cmd {
	case "dispatch-batch":
		if *requester != "" {
			requesterID := mustParseUUID(logg, ctx, "requester", *requester)
			err := dispatchService.RequestBatchProcessing(ctx, dispatch.BatchRequest{
				RequestedBy: requesterID,
				Privileged:  *privileged,
				Requested:   *requested,
			})
			requireResource(ctx, logg, "request batch processing", err)
			fmt.Println("on-demand batch job dispatched")
			return
		}
		err := dispatchService.DispatchBatch(ctx)
		requireResource(ctx, logg, "dispatch batch", err)
		fmt.Println("batch job dispatched")

	case "request-album":
		albumID := mustParseUUID(logg, ctx, "album", *album)
		requesterID := mustParseUUID(logg, ctx, "requester", *requester)
		published, err := dispatchService.RequestAlbumProcessing(ctx, dispatch.AlbumRequest{
			AlbumID:     albumID,
			RequestedBy: requesterID,
			Privileged:  *privileged,
			Requested:   *requested,
			Force:       *force,
		})
		requireResource(ctx, logg, "request album processing", err)
		fmt.Println("jobs published:", published)

	case "notify-upload":
		itemID := mustParseUUID(logg, ctx, "item", *item)
		dispatched, err := dispatchService.NotifyUploaded(ctx, itemID)
		requireResource(ctx, logg, "notify upload", err)
		if dispatched {
			fmt.Println("upload job dispatched")
		} else {
			fmt.Println("auto-process on upload is disabled, item left for the nightly batch")
		}

	case "analyze":
		itemID := mustParseUUID(logg, ctx, "item", *item)
		job := dispatch.Job{
			ID:         uuid.New(),
			Kind:       enums.JobKindSingle,
			ItemID:     itemID,
			Force:      *force,
			Trigger:    pipeline.TriggerOnDemand,
			EnqueuedAt: time.Now().UTC(),
		}
		err := dispatchService.PublishJob(ctx, job)
		requireResource(ctx, logg, "publish job", err)
		fmt.Println("job published:", job.ID)

	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

func printSnapshot(snap settings.Snapshot) {
	fmt.Println("auto_process_on_upload:", snap.AutoProcessOnUpload)
	fmt.Println("scheduled_enabled:     ", snap.ScheduledEnabled)
	fmt.Println("batch_size:            ", snap.BatchSize)
	fmt.Println("timeout:               ", snap.Timeout)
	fmt.Printf("schedule:               %02d:%02d\n", snap.ScheduleHour, snap.ScheduleMinute)
	fmt.Println("delegated_batch_limit: ", snap.DelegatedUserBatchLimit)
}

func mustParseUUID(logg *logger.Logger, ctx context.Context, name, value string) uuid.UUID {
	id, err := uuid.Parse(value)
	if err != nil {
		logg.Error(ctx, fmt.Sprintf("invalid -%s value", name), err)
		os.Exit(1)
	}
	return id
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
