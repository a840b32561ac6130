package actorutil

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type taskResult struct {
	value int
	err   error
}

func TestBackgroundTaskSuccess(t *testing.T) {

	var got *taskResult
	NewBackgroundTask(nil, func() (*taskResult, error) {
		return &taskResult{value: 42}, nil
	}).OnSuccess(func(r taskResult) {
		got = &r
	}).Run()

	if assert.NotNil(t, got) {
		assert.Equal(t, 42, got.value)
	}
}

func TestBackgroundTaskRecoveredValueIsDelivered(t *testing.T) {

	assert := assert.New(t)

	failure := errors.New("device gone")
	var got *taskResult
	NewBackgroundTask(nil, func() (*taskResult, error) {
		return nil, failure
	}).Recover(func(err error) taskResult {
		return taskResult{value: -1, err: err}
	}).OnSuccess(func(r taskResult) {
		got = &r
	}).Run()

	if assert.NotNil(got) {
		assert.Equal(-1, got.value)
		assert.ErrorIs(got.err, failure)
	}
}

func TestBackgroundTaskTimeout(t *testing.T) {

	var got *taskResult
	NewBackgroundTask(nil, func() (*taskResult, error) {
		time.Sleep(500 * time.Millisecond)
		return &taskResult{value: 1}, nil
	}).WithTimeout(50 * time.Millisecond).Recover(func(err error) taskResult {
		return taskResult{err: err}
	}).OnSuccess(func(r taskResult) {
		got = &r
	}).Run()

	if assert.NotNil(t, got) {
		assert.Error(t, got.err)
	}
}

func TestBackgroundTaskWithoutRecoverDropsErrors(t *testing.T) {

	called := false
	NewBackgroundTask(nil, func() (*taskResult, error) {
		return nil, errors.New("boom")
	}).OnSuccess(func(taskResult) {
		called = true
	}).Run()

	assert.False(t, called)
}

func TestMapBackgroundTask(t *testing.T) {

	var got string
	src := NewBackgroundTask(nil, func() (*taskResult, error) {
		return &taskResult{value: 7}, nil
	})
	MapBackgroundTask(src, func(r *taskResult) *string {
		s := "mapped"
		if r.value != 7 {
			s = "wrong"
		}
		return &s
	}).OnSuccess(func(s string) {
		got = s
	}).Run()

	assert.Equal(t, "mapped", got)
}

func TestStashDrop(t *testing.T) {

	assert := assert.New(t)

	s := &Stash{stash: []stashElem{{msg: 1}, {msg: "a"}, {msg: 2}, {msg: "b"}}}
	dropped := Drop[int](s)

	assert.Equal(2, dropped)
	assert.Equal(2, s.Len())
	assert.Equal("a", s.stash[0].msg)
	assert.Equal("b", s.stash[1].msg)
}
