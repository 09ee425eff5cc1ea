package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsFeed    int64
	errorsStorage int64
	warnsFeed     int64
	warnsStorage  int64
	feedReads     int64
	parseDrops    int64
	dbWrites      int64
	retryCount    int64
	channels      sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&warnsFeed, 1)
	} else if strings.Contains(component, "storage") {
		atomic.AddInt64(&warnsStorage, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "feed") {
		atomic.AddInt64(&errorsFeed, 1)
	} else if strings.Contains(component, "storage") {
		atomic.AddInt64(&errorsStorage, 1)
	}
}

// IncrementFeedRead counts one raw message relayed from the websocket.
func IncrementFeedRead(size int) {
	atomic.AddInt64(&feedReads, 1)
	recordChannel("feed_ws", size)
}

// IncrementParseDrop counts one malformed raw message dropped by the
// decoder.
func IncrementParseDrop() {
	atomic.AddInt64(&parseDrops, 1)
}

// IncrementDBWrite counts one record persisted by the storage sink.
func IncrementDBWrite() {
	atomic.AddInt64(&dbWrites, 1)
	recordChannel("db_insert", 1)
}

// IncrementRetryCount counts one reconnect attempt of the feed.
func IncrementRetryCount() {
	atomic.AddInt64(&retryCount, 1)
}

func RecordChannelMessage(name string, size int) {
	recordChannel(name, size)
}

func recordChannel(name string, size int) {
	v, _ := channels.LoadOrStore(name, &channelStat{})
	cs := v.(*channelStat)
	atomic.AddInt64(&cs.messages, 1)
	atomic.AddInt64(&cs.bytes, int64(size))
}

func startReport(ctx context.Context, log *Log, interval time.Duration) {
	ticker := time.NewTicker(interval)
	go func() {
		for {
			select {
			case <-ctx.Done():
				ticker.Stop()
				return
			case <-ticker.C:
				logReport(log)
			}
		}
	}()
}

// StartReport begins periodic logging of runtime and channel statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(log *Log) {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)

	channelData := map[string]map[string]int64{}
	channels.Range(func(k, v any) bool {
		name := k.(string)
		cs := v.(*channelStat)
		channelData[name] = map[string]int64{
			"messages": atomic.LoadInt64(&cs.messages),
			"bytes":    atomic.LoadInt64(&cs.bytes),
		}
		return true
	})

	log.WithComponent("report").WithFields(Fields{
		"errors_feed":    atomic.LoadInt64(&errorsFeed),
		"errors_storage": atomic.LoadInt64(&errorsStorage),
		"warns_feed":     atomic.LoadInt64(&warnsFeed),
		"warns_storage":  atomic.LoadInt64(&warnsStorage),
		"feed_reads":     atomic.LoadInt64(&feedReads),
		"parse_drops":    atomic.LoadInt64(&parseDrops),
		"db_writes":      atomic.LoadInt64(&dbWrites),
		"feed_retries":   atomic.LoadInt64(&retryCount),
		"goroutines":     runtime.NumGoroutine(),
		"heap_mb":        int64(ms.HeapAlloc) / 1024 / 1024,
		"channels":       channelData,
	}).Info("runtime report")
}
