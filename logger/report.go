package logger

import (
	"context"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/mem"
	gnet "github.com/shirou/gopsutil/v3/net" //cloudwatch

	"github.com/aws/aws-sdk-go-v2/aws"                              //cloudwatch
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types" //cloudwatch
)

type channelStat struct {
	messages int64
	bytes    int64
}

var (
	errorsStream    int64
	errorsGateway   int64
	warnsStream     int64
	warnsGateway    int64
	venueRequests   int64
	venueRetries    int64
	venueBlocks     int64
	venueFallbacks  int64
	cacheHits       int64
	cacheMisses     int64
	snapshotsServed int64
	snapshotsFailed int64
	streamReads     int64
	channels        sync.Map // map[string]*channelStat
)

func recordWarn(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&warnsStream, 1)
	} else {
		atomic.AddInt64(&warnsGateway, 1)
	}
}

func recordError(component string) {
	if strings.Contains(component, "stream") {
		atomic.AddInt64(&errorsStream, 1)
	} else {
		atomic.AddInt64(&errorsGateway, 1)
	}
}

// IncrementVenueRequest counts one outbound venue call attempt.
func IncrementVenueRequest() { atomic.AddInt64(&venueRequests, 1) }

// IncrementVenueRetry counts one backoff-and-retry cycle.
func IncrementVenueRetry() { atomic.AddInt64(&venueRetries, 1) }

// IncrementVenueBlock counts one detected geo/IP block.
func IncrementVenueBlock() { atomic.AddInt64(&venueBlocks, 1) }

// IncrementVenueFallback counts one promotion of a non-primary venue.
func IncrementVenueFallback() { atomic.AddInt64(&venueFallbacks, 1) }

// IncrementCacheHit counts a response served from the TTL cache.
func IncrementCacheHit() { atomic.AddInt64(&cacheHits, 1) }

// IncrementCacheMiss counts a cache miss that went to the network.
func IncrementCacheMiss() { atomic.AddInt64(&cacheMisses, 1) }

// IncrementSnapshot counts a completed or failed aggregator call.
func IncrementSnapshot(ok bool) {
	if ok {
		atomic.AddInt64(&snapshotsServed, 1)
	} else {
		atomic.AddInt64(&snapshotsFailed, 1)
	}
}

// IncrementStreamRead counts one websocket message and its payload size.
func IncrementStreamRead(size int) {
	atomic.AddInt64(&streamReads, 1)
	recordChannel("stream_ws", size)
}

// RecordChannelMessage tracks message counts per named channel.
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
				logReport(ctx, log)
			}
		}
	}()
}

// StartReport begins periodic logging of system and gateway statistics.
// It exposes the internal startReport function for use by other packages.
func StartReport(ctx context.Context, log *Log, interval time.Duration) {
	startReport(ctx, log, interval)
}

func logReport(ctx context.Context, log *Log) {
	cpuPercent, _ := cpu.Percent(0, false)
	memStats, _ := mem.VirtualMemory()
	diskStats, _ := disk.Usage("/")
	netStats, _ := gnet.IOCounters(false)
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

	cpuPct := 0.0
	if len(cpuPercent) > 0 {
		cpuPct = cpuPercent[0]
	}

	bytesSent := uint64(0)
	bytesRecv := uint64(0)
	if len(netStats) > 0 {
		bytesSent = netStats[0].BytesSent
		bytesRecv = netStats[0].BytesRecv
	}

	fields := Fields{
		"errors_gateway":   atomic.LoadInt64(&errorsGateway),
		"errors_stream":    atomic.LoadInt64(&errorsStream),
		"warns_gateway":    atomic.LoadInt64(&warnsGateway),
		"warns_stream":     atomic.LoadInt64(&warnsStream),
		"venue_requests":   atomic.LoadInt64(&venueRequests),
		"venue_retries":    atomic.LoadInt64(&venueRetries),
		"venue_blocks":     atomic.LoadInt64(&venueBlocks),
		"venue_fallbacks":  atomic.LoadInt64(&venueFallbacks),
		"cache_hits":       atomic.LoadInt64(&cacheHits),
		"cache_misses":     atomic.LoadInt64(&cacheMisses),
		"snapshots_served": atomic.LoadInt64(&snapshotsServed),
		"snapshots_failed": atomic.LoadInt64(&snapshotsFailed),
		"stream_reads":     atomic.LoadInt64(&streamReads),
		"goroutines":       runtime.NumGoroutine(),
		"cpu_percent":      cpuPct,
		"memory_mb":        int64(memStats.Used) / 1024 / 1024,
		"disk_mb":          int64(diskStats.Used) / 1024 / 1024,
		"channels":         channelData,
		"net_bytes_sent":   int64(bytesSent),
		"net_bytes_recv":   int64(bytesRecv),
	}

	log.WithComponent("report").WithFields(fields).Info("runtime report")

	var data []cwtypes.MetricDatum
	data = append(data,
		cwtypes.MetricDatum{MetricName: aws.String("Gw-CPUPercent"), Unit: cwtypes.StandardUnitPercent, Value: aws.Float64(cpuPct)},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-MemoryMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(memStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-DiskMB"), Unit: cwtypes.StandardUnitMegabytes, Value: aws.Float64(float64(diskStats.Used) / 1024 / 1024)},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-ErrorsGateway"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsGateway)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-ErrorsStream"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&errorsStream)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-VenueRequests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&venueRequests)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-VenueRetries"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&venueRetries)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-VenueBlocks"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&venueBlocks)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-VenueFallbacks"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&venueFallbacks)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-CacheHits"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cacheHits)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-CacheMisses"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&cacheMisses)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-SnapshotRequests"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotsServed)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-SnapshotFailures"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&snapshotsFailed)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-StreamReads"), Unit: cwtypes.StandardUnitCount, Value: aws.Float64(float64(atomic.LoadInt64(&streamReads)))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-NetBytesSent"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesSent))},
		cwtypes.MetricDatum{MetricName: aws.String("Gw-NetBytesRecv"), Unit: cwtypes.StandardUnitBytes, Value: aws.Float64(float64(bytesRecv))},
	)

	for name, stats := range channelData {
		data = append(data,
			cwtypes.MetricDatum{
				MetricName: aws.String("Gw-ChannelMessages"),
				Unit:       cwtypes.StandardUnitCount,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["messages"])),
			},
			cwtypes.MetricDatum{
				MetricName: aws.String("Gw-ChannelBytes"),
				Unit:       cwtypes.StandardUnitBytes,
				Dimensions: []cwtypes.Dimension{{Name: aws.String("Channel"), Value: aws.String(name)}},
				Value:      aws.Float64(float64(stats["bytes"])),
			},
		)
	}

	publishMetrics(ctx, data)
}
