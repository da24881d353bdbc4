package cron

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRegistryKeepsOrderAndSkipsInvalid(t *testing.T) {
	a := &testJob{name: "a"}
	b := &testJob{name: "b"}
	registry := NewRegistry().
		Every(time.Minute, a).
		Every(0, &testJob{name: "never"}).
		Every(time.Hour, nil).
		Every(time.Hour, b)

	schedules := registry.Schedules()
	assert.Len(t, schedules, 2)
	assert.Same(t, a, schedules[0].Job)
	assert.Equal(t, time.Hour, schedules[1].Every)

	schedules[0].Job = nil
	assert.NotNil(t, registry.Schedules()[0].Job, "caller must not mutate registry state")
}
