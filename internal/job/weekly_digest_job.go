package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"market-signal-bot/internal/domain"

	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/otel/trace"
)

// DefaultDigestSpec fires Saturdays at 04:30 UTC (08:00 Tehran).
const DefaultDigestSpec = "30 4 * * 6"

type DigestSender interface {
	SendDigest(ctx context.Context) error
}

// WeeklyDigestJob sends the market summary on a cron schedule.
type WeeklyDigestJob struct {
	tracer   trace.Tracer
	sender   DigestSender
	spec     string
	schedule cron.Schedule
	cron     *cron.Cron
}

func NewWeeklyDigestJob(tracer trace.Tracer, sender DigestSender, spec string, loc *time.Location) (*WeeklyDigestJob, error) {
	if spec == "" {
		spec = DefaultDigestSpec
	}
	if loc == nil {
		loc = time.UTC
	}
	schedule, err := cron.ParseStandard(spec)
	if err != nil {
		return nil, fmt.Errorf("parse digest schedule %q: %w", spec, err)
	}
	return &WeeklyDigestJob{
		tracer:   tracer,
		sender:   sender,
		spec:     spec,
		schedule: schedule,
		cron:     cron.New(cron.WithLocation(loc)),
	}, nil
}

// Next returns the first fire time after t.
func (j *WeeklyDigestJob) Next(t time.Time) time.Time {
	return j.schedule.Next(t.In(j.cron.Location()))
}

// Start runs the schedule until ctx is cancelled.
func (j *WeeklyDigestJob) Start(ctx context.Context) {
	if j.sender == nil {
		log.Println("Weekly digest job disabled: no sender")
		<-ctx.Done()
		return
	}

	j.cron.Schedule(j.schedule, cron.FuncJob(func() { j.RunOnce(ctx) }))
	j.cron.Start()
	log.Printf("Weekly digest job scheduled (%s), next run %s", j.spec, j.Next(time.Now()).Format(time.RFC3339))

	<-ctx.Done()
	<-j.cron.Stop().Done()
	log.Println("Weekly digest job stopped")
}

// RunOnce sends one digest immediately.
func (j *WeeklyDigestJob) RunOnce(ctx context.Context) {
	ctx, span := j.tracer.Start(ctx, "weekly-digest-job.run-once")
	defer span.End()

	if err := j.sender.SendDigest(ctx); err != nil {
		if errors.Is(err, domain.ErrNoSubscriber) {
			log.Println("Weekly digest skipped: no subscribed chat")
			return
		}
		log.Printf("Weekly digest error: %v", err)
		return
	}
	log.Println("Weekly digest sent")
}
