package db

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/prsnl-dev/prsnl/go/coordinator/internal/circuitbreaker"
	"github.com/prsnl-dev/prsnl/go/coordinator/internal/metrics"
)

// Config holds database configuration
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	MaxConnections  int
	IdleConnections int
	MaxLifetime     time.Duration
	SSLMode         string
}

// Client manages database connections and operations
type Client struct {
	db     *circuitbreaker.DatabaseWrapper
	logger *zap.Logger
	config *Config

	// Write queue for async operations
	writeQueue chan WriteRequest
	workers    int
	stopCh     chan struct{}
	workerWg   sync.WaitGroup // Track worker goroutines for graceful shutdown
}

// WriteRequest represents an async write operation
type WriteRequest struct {
	Type     WriteType
	Data     interface{}
	Callback func(error)
}

type WriteType int

const (
	WriteTypeWorkflowStatus WriteType = iota
	WriteTypeTaskProgress
	WriteTypeAgentResult
	WriteTypeSynthesis
	WriteTypeBatch
)

// String returns the string representation of WriteType
func (wt WriteType) String() string {
	switch wt {
	case WriteTypeWorkflowStatus:
		return "WorkflowStatus"
	case WriteTypeTaskProgress:
		return "TaskProgress"
	case WriteTypeAgentResult:
		return "AgentResult"
	case WriteTypeSynthesis:
		return "Synthesis"
	case WriteTypeBatch:
		return "Batch"
	default:
		return "Unknown"
	}
}

// NewClient creates a new database client with connection pool
func NewClient(config *Config, logger *zap.Logger) (*Client, error) {
	if config.MaxConnections == 0 {
		config.MaxConnections = 25
	}
	if config.IdleConnections == 0 {
		config.IdleConnections = 5
	}
	if config.MaxLifetime == 0 {
		config.MaxLifetime = 5 * time.Minute
	}
	if config.SSLMode == "" {
		config.SSLMode = "require"
	}

	// Build connection string
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode,
	)

	// Open database connection
	rawDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	rawDB.SetMaxOpenConns(config.MaxConnections)
	rawDB.SetMaxIdleConns(config.IdleConnections)
	rawDB.SetConnMaxLifetime(config.MaxLifetime)

	// Create circuit breaker wrapped database
	db := circuitbreaker.NewDatabaseWrapper(rawDB, logger)

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		rawDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	client := newClientWithWrapper(db, config, logger)

	logger.Info("Database client initialized",
		zap.String("host", config.Host),
		zap.Int("max_connections", config.MaxConnections),
		zap.Int("workers", client.workers),
	)

	return client, nil
}

// newClientWithWrapper wires the queue and workers around an already-open
// connection. Split out so tests can inject a mock database.
func newClientWithWrapper(db *circuitbreaker.DatabaseWrapper, config *Config, logger *zap.Logger) *Client {
	client := &Client{
		db:         db,
		logger:     logger,
		config:     config,
		writeQueue: make(chan WriteRequest, 1000), // Buffer size of 1000
		workers:    10,                            // Default 10 workers
		stopCh:     make(chan struct{}),
	}

	client.startWorkers()
	go client.healthCheck()

	return client
}

// startWorkers initializes the worker pool for async writes
func (c *Client) startWorkers() {
	for i := 0; i < c.workers; i++ {
		c.workerWg.Add(1)
		go c.writeWorker(i)
	}
}

// writeWorker processes write requests from the queue
func (c *Client) writeWorker(id int) {
	c.logger.Debug("Write worker started", zap.Int("worker_id", id))

	// Batch buffer for batch writes
	batchBuffer := make([]WriteRequest, 0, 100)
	batchTicker := time.NewTicker(1 * time.Second)
	defer batchTicker.Stop()

	for {
		select {
		case <-c.stopCh:
			// Drain remaining requests
			c.drainQueue(batchBuffer)
			c.logger.Info("Write worker stopped", zap.Int("worker_id", id))
			c.workerWg.Done()
			return

		case req := <-c.writeQueue:
			// Handle different write types
			switch req.Type {
			case WriteTypeBatch:
				batchBuffer = append(batchBuffer, req)
				if len(batchBuffer) >= 100 {
					c.processBatch(batchBuffer)
					batchBuffer = batchBuffer[:0]
				}
			default:
				// Process immediately
				c.processWrite(req)
			}

		case <-batchTicker.C:
			// Flush batch buffer periodically
			if len(batchBuffer) > 0 {
				c.processBatch(batchBuffer)
				batchBuffer = batchBuffer[:0]
			}
		}
	}
}

// processWrite handles a single write request
func (c *Client) processWrite(req WriteRequest) {
	var err error

	switch req.Type {
	case WriteTypeWorkflowStatus:
		if update, ok := req.Data.(*WorkflowStatusUpdate); ok {
			err = c.UpdateWorkflowStatus(context.Background(), update.WorkflowID, update.Status)
		}
	case WriteTypeTaskProgress:
		if progress, ok := req.Data.(*TaskProgress); ok {
			err = c.UpsertTaskProgress(context.Background(), progress)
		}
	case WriteTypeAgentResult:
		if result, ok := req.Data.(*AgentResult); ok {
			err = c.SaveAgentResult(context.Background(), result)
		}
	case WriteTypeSynthesis:
		if record, ok := req.Data.(*SynthesisRecord); ok {
			err = c.SaveSynthesisRecord(context.Background(), record)
		}
	}

	if err != nil {
		metrics.RecordDBWrite(req.Type.String(), "error")
	} else {
		metrics.RecordDBWrite(req.Type.String(), "ok")
	}

	// Call callback if provided
	if req.Callback != nil {
		req.Callback(err)
	}

	if err != nil {
		c.logger.Error("Failed to process write request",
			zap.String("type", req.Type.String()),
			zap.Error(err),
		)
	}
}

// processBatch handles batch writes
func (c *Client) processBatch(batch []WriteRequest) {
	if len(batch) == 0 {
		return
	}

	c.logger.Debug("Processing batch writes", zap.Int("count", len(batch)))

	// Group by type for efficient batch inserts
	progressRows := make([]*TaskProgress, 0)
	agentResults := make([]*AgentResult, 0)

	collect := func(req WriteRequest) {
		switch req.Type {
		case WriteTypeTaskProgress:
			if progress, ok := req.Data.(*TaskProgress); ok {
				progressRows = append(progressRows, progress)
			}
		case WriteTypeAgentResult:
			if result, ok := req.Data.(*AgentResult); ok {
				agentResults = append(agentResults, result)
			}
		default:
			// Status transitions and synthesis records are not batchable
			c.processWrite(req)
		}
	}

	for _, req := range batch {
		if req.Type == WriteTypeBatch {
			// WriteTypeBatch carries a slice of inner requests
			if innerReqs, ok := req.Data.([]WriteRequest); ok {
				for _, innerReq := range innerReqs {
					collect(innerReq)
				}
			}
			continue
		}
		collect(req)
	}

	ctx := context.Background()

	if len(progressRows) > 0 {
		if err := c.BatchUpsertTaskProgress(ctx, progressRows); err != nil {
			metrics.RecordDBWrite("TaskProgressBatch", "error")
			c.logger.Error("Failed to batch upsert task progress", zap.Error(err))
		} else {
			metrics.RecordDBWrite("TaskProgressBatch", "ok")
		}
	}

	if len(agentResults) > 0 {
		if err := c.BatchSaveAgentResults(ctx, agentResults); err != nil {
			metrics.RecordDBWrite("AgentResultBatch", "error")
			c.logger.Error("Failed to batch save agent results", zap.Error(err))
		} else {
			metrics.RecordDBWrite("AgentResultBatch", "ok")
		}
	}
}

// drainQueue processes remaining requests during shutdown
func (c *Client) drainQueue(batchBuffer []WriteRequest) {
	timeout := time.After(10 * time.Second)

	for {
		select {
		case req := <-c.writeQueue:
			c.processWrite(req)
		case <-timeout:
			c.logger.Warn("Timeout draining write queue")
			return
		default:
			// Queue is empty
			if len(batchBuffer) > 0 {
				c.processBatch(batchBuffer)
			}
			return
		}
	}
}

// QueueWrite adds a write request to the async queue
func (c *Client) QueueWrite(writeType WriteType, data interface{}, callback func(error)) error {
	select {
	case c.writeQueue <- WriteRequest{
		Type:     writeType,
		Data:     data,
		Callback: callback,
	}:
		metrics.SetDBWriteQueueDepth(len(c.writeQueue))
		return nil
	default:
		// Queue is full - use synchronous fallback to avoid dropping writes
		c.logger.Warn("Write queue is full, falling back to synchronous write",
			zap.String("type", writeType.String()))
		metrics.RecordDBSyncFallback()

		req := WriteRequest{
			Type:     writeType,
			Data:     data,
			Callback: callback,
		}

		// Execute synchronously
		c.processWrite(req)
		return nil
	}
}

// QueueWriteWithRetry attempts to queue a write with limited retries before fallback
func (c *Client) QueueWriteWithRetry(writeType WriteType, data interface{}, callback func(error)) error {
	const maxRetries = 3
	const retryDelay = 10 * time.Millisecond

	for attempt := 0; attempt < maxRetries; attempt++ {
		select {
		case c.writeQueue <- WriteRequest{
			Type:     writeType,
			Data:     data,
			Callback: callback,
		}:
			metrics.SetDBWriteQueueDepth(len(c.writeQueue))
			return nil
		default:
			if attempt < maxRetries-1 {
				time.Sleep(retryDelay)
				continue
			}
			// Final attempt failed, fall back to sync
			c.logger.Warn("Write queue full after retries, using synchronous fallback",
				zap.String("type", writeType.String()),
				zap.Int("attempts", maxRetries))
			metrics.RecordDBSyncFallback()

			req := WriteRequest{
				Type:     writeType,
				Data:     data,
				Callback: callback,
			}
			c.processWrite(req)
			return nil
		}
	}
	return nil
}

// healthCheck periodically checks database connectivity
func (c *Client) healthCheck() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := c.db.PingContext(ctx); err != nil {
				c.logger.Error("Database health check failed", zap.Error(err))
			}
			cancel()
			metrics.SetDBWriteQueueDepth(len(c.writeQueue))
		}
	}
}

// Close gracefully shuts down the database client
func (c *Client) Close() error {
	c.logger.Info("Shutting down database client")

	// Signal workers to stop
	close(c.stopCh)

	// Wait for all workers to finish draining
	c.logger.Info("Waiting for write workers to finish")
	c.workerWg.Wait()

	// Close database connection
	if err := c.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	c.logger.Info("Database client closed")
	return nil
}

// GetDB returns the underlying database connection for direct queries
func (c *Client) GetDB() *sql.DB {
	return c.db.GetDB()
}

// Transaction helper for transactional operations using circuit breaker protected transaction
func (c *Client) WithTransactionCB(ctx context.Context, fn func(*circuitbreaker.TxWrapper) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("rollback failed: %v, original error: %w", rbErr, err)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

// Wrapper returns the underlying DatabaseWrapper for health checks and monitoring
func (c *Client) Wrapper() *circuitbreaker.DatabaseWrapper {
	return c.db
}
