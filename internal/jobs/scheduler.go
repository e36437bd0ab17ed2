package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/robfig/cron/v3"
)

// Job is a background task driven by the scheduler.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// JobScheduler runs registered jobs on cron schedules. Specs are validated
// up front so a bad SWEEP_CRON fails startup instead of silently never
// firing.
type JobScheduler struct {
	scheduler gocron.Scheduler
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewJobScheduler creates a new job scheduler
func NewJobScheduler() (*JobScheduler, error) {
	scheduler, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, fmt.Errorf("create scheduler: %w", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &JobScheduler{scheduler: scheduler, ctx: ctx, cancel: cancel}, nil
}

// Register adds a job on the given cron spec (standard 5-field syntax).
func (s *JobScheduler) Register(spec string, job Job) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid cron spec %q for job %s: %w", spec, job.Name(), err)
	}

	_, err := s.scheduler.NewJob(
		gocron.CronJob(spec, false),
		gocron.NewTask(func() {
			start := time.Now()
			if err := job.Run(s.ctx); err != nil {
				log.Printf("❌ [SCHEDULER] Job '%s' failed: %v", job.Name(), err)
				return
			}
			log.Printf("✅ [SCHEDULER] Job '%s' completed in %v", job.Name(), time.Since(start))
		}),
		gocron.WithName(job.Name()),
	)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name(), err)
	}
	log.Printf("✅ [SCHEDULER] Registered job: %s (%s)", job.Name(), spec)
	return nil
}

// Start begins running all registered jobs
func (s *JobScheduler) Start() {
	s.scheduler.Start()
	log.Printf("🚀 [SCHEDULER] Job scheduler started with %d jobs", len(s.scheduler.Jobs()))
}

// Stop gracefully stops all jobs
func (s *JobScheduler) Stop() {
	log.Println("🛑 [SCHEDULER] Stopping job scheduler...")
	s.cancel()
	if err := s.scheduler.Shutdown(); err != nil {
		log.Printf("⚠️ [SCHEDULER] Shutdown error: %v", err)
	}
}
