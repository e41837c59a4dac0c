package main

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basis-protocol/tracker/tracker"
)

// commitSubmitter is the subset of ergonode.Client the commit writer needs,
// narrowed to an interface so it can be exercised with a fake in tests.
type commitSubmitter interface {
	SubmitCommitTransaction(ctx context.Context, digest [33]byte, height uint64) (string, error)
}

// commitWriter periodically logs the tracker tree's commitment digest and,
// if configured, submits it as an on-chain transaction. Its ticker/quit-
// channel shape is adapted from htlcswitch.Switch's background
// housekeeping goroutines (htlcswitch/switch.go).
type commitWriter struct {
	core     *tracker.Core
	interval time.Duration
	submit   bool
	node     commitSubmitter

	started int32
	quit    chan struct{}
	wg      sync.WaitGroup
}

func newCommitWriter(core *tracker.Core, interval time.Duration, submit bool, node commitSubmitter) *commitWriter {
	return &commitWriter{
		core:     core,
		interval: interval,
		submit:   submit,
		node:     node,
		quit:     make(chan struct{}),
	}
}

func (w *commitWriter) start() {
	if !atomic.CompareAndSwapInt32(&w.started, 0, 1) {
		return
	}
	w.wg.Add(1)
	go w.run()
}

func (w *commitWriter) stop() {
	close(w.quit)
	w.wg.Wait()
}

func (w *commitWriter) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.commitOnce()
		case <-w.quit:
			return
		}
	}
}

func (w *commitWriter) commitOnce() {
	snap, err := w.core.Snapshot()
	if err != nil {
		trkdLog.Errorf("commit writer: unable to snapshot tree: %v", err)
		return
	}

	trkdLog.Infof("tree commitment: digest=%x height=%d", snap.Digest, snap.CurrentHeight)

	now := uint64(time.Now().Unix())
	if err := w.core.RecordCommit(snap.CurrentHeight, now); err != nil {
		trkdLog.Errorf("commit writer: unable to record commit: %v", err)
		return
	}

	if !w.submit {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	txID, err := w.node.SubmitCommitTransaction(ctx, snap.Digest, snap.CurrentHeight)
	if err != nil {
		trkdLog.Errorf("commit writer: unable to submit commit transaction: %v", err)
		return
	}
	trkdLog.Infof("tree commitment broadcast, txid=%s", txID)
}
