package telemetry

import (
	"context"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenLabCore/internal/config"
	"github.com/KevinKickass/OpenLabCore/internal/transient"
)

const (
	measurementTransient = "transient_impedance"
	pingTimeout          = 5 * time.Second
)

// pointWriter is satisfied by the non-blocking influx WriteAPI.
type pointWriter interface {
	WritePoint(point *write.Point)
	Flush()
}

// SeriesWriter stores transient spectra as time series, one point per
// frequency.
type SeriesWriter struct {
	client influxdb2.Client
	writer pointWriter
	logger *zap.Logger
	now    func() time.Time
}

// ConnectInflux pings the server and starts the batched write API.
func ConnectInflux(ctx context.Context, cfg config.InfluxDBConfig, logger *zap.Logger) (*SeriesWriter, error) {
	opts := influxdb2.DefaultOptions()
	if cfg.BatchSize > 0 {
		opts.SetBatchSize(cfg.BatchSize)
	}
	if cfg.FlushInterval > 0 {
		opts.SetFlushInterval(cfg.FlushInterval)
	}
	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	healthy, err := client.Ping(pingCtx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: %w", err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("influxdb ping: server not healthy")
	}

	writeAPI := client.WriteAPI(cfg.Org, cfg.Bucket)
	go func() {
		for err := range writeAPI.Errors() {
			logger.Warn("InfluxDB write failed", zap.Error(err))
		}
	}()

	w := NewSeriesWriter(writeAPI, logger)
	w.client = client
	logger.Info("InfluxDB connected", zap.String("url", cfg.URL), zap.String("bucket", cfg.Bucket))
	return w, nil
}

func NewSeriesWriter(writer pointWriter, logger *zap.Logger) *SeriesWriter {
	return &SeriesWriter{writer: writer, logger: logger, now: time.Now}
}

// WriteTransient writes one point per frequency of n. Points are tagged
// with execution, transient handle and frequency index.
func (w *SeriesWriter) WriteTransient(executionID uuid.UUID, n transient.Notification) {
	ts := w.now()
	for i, p := range n.Spectrum {
		w.writer.WritePoint(write.NewPoint(
			measurementTransient,
			map[string]string{
				"execution":  executionID.String(),
				"handle":     n.Handle.String(),
				"freq_index": fmt.Sprint(i),
			},
			map[string]interface{}{
				"frequency": p.X(),
				"real":      p.Real(),
				"imag":      p.Imag(),
				"abs":       p.Abs(),
				"phase":     p.Phase(),
				"position":  n.Position,
				"timediff":  n.TimeDiff,
			},
			ts,
		))
	}
}

func (w *SeriesWriter) Close() {
	w.writer.Flush()
	if w.client != nil {
		w.client.Close()
	}
}
