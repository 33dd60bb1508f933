package monitoring

import (
	"errors"
	"testing"
	"time"
)

func TestRecordCatalogMetrics(t *testing.T) {
	RecordCatalogHit("indexes")
	RecordCatalogMiss("indexes", 120*time.Millisecond, nil)
	RecordCatalogMiss("license", 80*time.Millisecond, errors.New("boom"))
}

func TestRecordDownloadMetrics(t *testing.T) {
	RecordDownloadStart()

	duration := 5 * time.Second
	bytes := int64(10 * 1024 * 1024) // 10 MB
	RecordDownloadComplete(duration, bytes)

	RecordDownloadStart()
	RecordDownloadFailed("network")

	RecordDownloadStart()
	RecordDownloadCancelled()
}

func TestUpdateQueueSize(t *testing.T) {
	UpdateQueueSize(42)
	UpdateQueueSize(0)
	UpdateQueueSize(10000)
}

func TestRecordProxySession(t *testing.T) {
	RecordProxySession("complete", 1000)
	RecordProxySession("not_found", 0)
}

func TestRecordCleanerSweep(t *testing.T) {
	RecordCleanerSweep("full", 3, 600, 1024)
	RecordCleanerSweep("space", 0, 0, 1024)
}

func TestRecordError(t *testing.T) {
	RecordError("network")
	RecordError("filesystem")
}
