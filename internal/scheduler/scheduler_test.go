package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biz-agent/internal/app"
)

type fakeJobs struct {
	summaries atomic.Int32
	reminders atomic.Int32
	days      atomic.Int32
	fail      bool
}

func (f *fakeJobs) SendDailySummary(ctx context.Context) error {
	f.summaries.Add(1)
	if f.fail {
		return errors.New("no owner")
	}
	return nil
}

func (f *fakeJobs) SendOverdueReminders(ctx context.Context, days int) (*app.ReminderResult, error) {
	f.reminders.Add(1)
	f.days.Store(int32(days))
	return &app.ReminderResult{}, nil
}

func TestNew_RejectsBadSpec(t *testing.T) {
	_, err := New(&fakeJobs{}, Config{SummarySpec: "every evening"}, zerolog.Nop())
	assert.Error(t, err)
	_, err = New(&fakeJobs{}, Config{ReminderSpec: "61 * * * *"}, zerolog.Nop())
	assert.Error(t, err)
}

func TestScheduler_Defaults(t *testing.T) {
	s, err := New(&fakeJobs{}, Config{}, zerolog.Nop())
	require.NoError(t, err)
	assert.Len(t, s.cron.Entries(), 2)
	assert.Equal(t, DefaultSummarySpec, s.cfg.SummarySpec)
}

func TestScheduler_JobsRun(t *testing.T) {
	jobs := &fakeJobs{fail: true}
	s, err := New(jobs, Config{OverdueDays: 45}, zerolog.Nop())
	require.NoError(t, err)

	s.runSummary()
	s.runReminders()
	assert.EqualValues(t, 1, jobs.summaries.Load())
	assert.EqualValues(t, 1, jobs.reminders.Load())
	assert.EqualValues(t, 45, jobs.days.Load())
}

func TestScheduler_StartStop(t *testing.T) {
	jobs := &fakeJobs{}
	s, err := New(jobs, Config{SummarySpec: "@every 10ms", ReminderSpec: "@every 1h"}, zerolog.Nop())
	require.NoError(t, err)

	s.Start()
	require.Eventually(t, func() bool { return jobs.summaries.Load() > 0 }, 3*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
