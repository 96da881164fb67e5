package writer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	"depthwatch/config"
	"depthwatch/logger"
	"depthwatch/models"
)

// ParquetRecord is the archived row layout of an analysis record.
type ParquetRecord struct {
	Symbol      string  `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp   int64   `parquet:"name=timestamp, type=INT64"`
	TotalOrders int64   `parquet:"name=total_orders, type=INT64"`
	HumanOrders int64   `parquet:"name=human_orders, type=INT64"`
	BotOrders   int64   `parquet:"name=bot_orders, type=INT64"`
	HumanRatio  float64 `parquet:"name=human_ratio, type=DOUBLE"`
}

// memoryFileWriter implements source.ParquetFile over an in-memory buffer.
type memoryFileWriter struct {
	buffer *bytes.Buffer
}

func newMemoryFileWriter() *memoryFileWriter {
	return &memoryFileWriter{buffer: &bytes.Buffer{}}
}

func (mfw *memoryFileWriter) Create(string) (source.ParquetFile, error) { return mfw, nil }
func (mfw *memoryFileWriter) Open(string) (source.ParquetFile, error)   { return mfw, nil }

// Seek only reports the write position; the parquet writer never rewinds.
func (mfw *memoryFileWriter) Seek(int64, int) (int64, error) {
	return int64(mfw.buffer.Len()), nil
}

func (mfw *memoryFileWriter) Read(b []byte) (int, error)  { return mfw.buffer.Read(b) }
func (mfw *memoryFileWriter) Write(b []byte) (int, error) { return mfw.buffer.Write(b) }
func (mfw *memoryFileWriter) Close() error                { return nil }
func (mfw *memoryFileWriter) Bytes() []byte               { return mfw.buffer.Bytes() }

type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type partitionKey struct {
	symbol string
	date   string
}

// ParquetArchiver batches analysis records and uploads them to S3 as parquet
// objects partitioned by symbol and day.
type ParquetArchiver struct {
	cfg     config.S3Config
	version string
	client  objectPutter
	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	buffer  map[partitionKey][]models.AnalysisRecord
	pending int
	flushCh chan struct{}
	newID   func() string
	log     *logger.Log
}

// NewParquetArchiver builds an S3 client from the archive settings.
func NewParquetArchiver(ctx context.Context, cfg config.S3Config, version string) (*ParquetArchiver, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	a := newParquetArchiver(cfg, version, client)
	a.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"bucket":     cfg.Bucket,
		"region":     cfg.Region,
		"endpoint":   cfg.Endpoint,
		"path_style": cfg.PathStyle,
		"batch_size": cfg.BatchSize,
	}).Info("s3 archiver initialized")
	return a, nil
}

func newParquetArchiver(cfg config.S3Config, version string, client objectPutter) *ParquetArchiver {
	return &ParquetArchiver{
		cfg:     cfg,
		version: version,
		client:  client,
		wg:      &sync.WaitGroup{},
		buffer:  make(map[partitionKey][]models.AnalysisRecord),
		flushCh: make(chan struct{}, 1),
		newID:   func() string { return uuid.New().String() },
		log:     logger.GetLogger(),
	}
}

func (a *ParquetArchiver) Name() string { return "s3_parquet" }

// Start launches the background flush worker.
func (a *ParquetArchiver) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return fmt.Errorf("s3 archiver already running")
	}
	a.running = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	a.wg.Add(1)
	go a.flushWorker()
	return nil
}

// Publish buffers rec. A full batch is handed to the flush worker, or
// flushed inline when the worker is not running.
func (a *ParquetArchiver) Publish(ctx context.Context, rec models.AnalysisRecord) error {
	key := partitionKey{
		symbol: rec.Symbol,
		date:   rec.Time().Format("2006-01-02"),
	}

	a.mu.Lock()
	a.buffer[key] = append(a.buffer[key], rec)
	a.pending++
	full := a.cfg.BatchSize > 0 && a.pending >= a.cfg.BatchSize
	running := a.running
	a.mu.Unlock()

	if !full {
		return nil
	}
	if running {
		select {
		case a.flushCh <- struct{}{}:
		default:
		}
		return nil
	}
	return a.Flush(ctx, "batch_size")
}

func (a *ParquetArchiver) flushWorker() {
	defer a.wg.Done()

	log := a.log.WithComponent("s3_archiver").WithFields(logger.Fields{"worker": "flush"})
	log.Info("starting flush worker")

	interval := a.cfg.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-a.ctx.Done():
			log.Info("flush worker stopped due to context cancellation")
			return
		case <-ticker.C:
			_ = a.Flush(a.ctx, "interval")
		case <-a.flushCh:
			_ = a.Flush(a.ctx, "batch_size")
		}
	}
}

// Flush uploads every buffered partition. Records of a failed upload are
// dropped and the failure is reported.
func (a *ParquetArchiver) Flush(ctx context.Context, reason string) error {
	a.mu.Lock()
	buffers := a.buffer
	a.buffer = make(map[partitionKey][]models.AnalysisRecord)
	a.pending = 0
	a.mu.Unlock()

	if len(buffers) == 0 {
		return nil
	}

	a.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"partitions": len(buffers),
		"reason":     reason,
	}).Debug("flushing archive buffers")

	keys := make([]partitionKey, 0, len(buffers))
	for k := range buffers {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].symbol != keys[j].symbol {
			return keys[i].symbol < keys[j].symbol
		}
		return keys[i].date < keys[j].date
	})

	var errs []error
	for _, k := range keys {
		if err := a.uploadPartition(ctx, k, buffers[k]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *ParquetArchiver) uploadPartition(ctx context.Context, k partitionKey, records []models.AnalysisRecord) error {
	objectKey := a.objectKey(k)
	log := a.log.WithComponent("s3_archiver").WithFields(logger.Fields{
		"symbol":       k.symbol,
		"s3_key":       objectKey,
		"record_count": len(records),
	})

	data, err := a.encodeParquet(records)
	if err != nil {
		log.WithError(err).Error("failed to create parquet file")
		return err
	}

	input := &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
		Metadata: map[string]string{
			"content-type":       "parquet",
			"compression":        a.cfg.Compression,
			"record-count":       strconv.Itoa(len(records)),
			"depthwatch-version": a.version,
		},
	}

	if _, err := a.client.PutObject(context.WithoutCancel(ctx), input); err != nil {
		log.WithError(err).WithEnv("S3_BUCKET").Error("failed to upload to S3")
		return fmt.Errorf("failed to upload to S3 bucket %s: %w", a.cfg.Bucket, err)
	}

	log.WithFields(logger.Fields{"file_size": len(data)}).Info("archive batch uploaded")
	return nil
}

func (a *ParquetArchiver) objectKey(k partitionKey) string {
	return path.Join(
		a.cfg.Prefix,
		"symbol="+k.symbol,
		"date="+k.date,
		a.newID()+".parquet",
	)
}

func (a *ParquetArchiver) encodeParquet(records []models.AnalysisRecord) ([]byte, error) {
	fw := newMemoryFileWriter()

	pw, err := writer.NewParquetWriter(fw, new(ParquetRecord), 4)
	if err != nil {
		return nil, fmt.Errorf("failed to create parquet writer: %w", err)
	}

	switch a.cfg.Compression {
	case "snappy":
		pw.CompressionType = parquet.CompressionCodec_SNAPPY
	case "gzip":
		pw.CompressionType = parquet.CompressionCodec_GZIP
	default:
		pw.CompressionType = parquet.CompressionCodec_UNCOMPRESSED
	}

	for _, rec := range records {
		row := ParquetRecord{
			Symbol:      rec.Symbol,
			Timestamp:   rec.Timestamp,
			TotalOrders: rec.TotalOrders,
			HumanOrders: rec.HumanOrders,
			BotOrders:   rec.BotOrders,
			HumanRatio:  rec.HumanRatio,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("failed to write parquet record: %w", err)
		}
	}

	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("failed to finalize parquet writing: %w", err)
	}
	return fw.Bytes(), nil
}

// Close stops the worker and uploads whatever is still buffered.
func (a *ParquetArchiver) Close() error {
	a.mu.Lock()
	wasRunning := a.running
	a.running = false
	cancel := a.cancel
	a.mu.Unlock()

	if wasRunning && cancel != nil {
		cancel()
		a.wg.Wait()
	}
	return a.Flush(context.Background(), "shutdown")
}
