package testhelpers

import (
	"context"
	"sync"

	"github.com/everkeep/legacy-access-service/internal/models"
)

// NotificationRecord captures one dispatch call.
type NotificationRecord struct {
	Kind       string
	RequestID  string
	AccessLink string
}

const (
	NotifTrusteesOfRequest  = "trustees_of_request"
	NotifOwnerOfRequest     = "owner_of_request"
	NotifGracePeriodStarted = "requester_grace_period_started"
	NotifRejected           = "requester_rejected"
	NotifCancelled          = "requester_cancelled"
	NotifAccessGranted      = "requester_access_granted"
)

// RecordingDispatcher implements services.NotificationDispatcher by recording
// every call. Safe for concurrent use.
type RecordingDispatcher struct {
	mu      sync.Mutex
	Records []NotificationRecord
}

func NewRecordingDispatcher() *RecordingDispatcher {
	return &RecordingDispatcher{}
}

func (d *RecordingDispatcher) record(rec NotificationRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.Records = append(d.Records, rec)
}

// CountKind returns how many calls of one kind were recorded.
func (d *RecordingDispatcher) CountKind(kind string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, rec := range d.Records {
		if rec.Kind == kind {
			n++
		}
	}
	return n
}

// LastOfKind returns the most recent record of one kind, or nil.
func (d *RecordingDispatcher) LastOfKind(kind string) *NotificationRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i := len(d.Records) - 1; i >= 0; i-- {
		if d.Records[i].Kind == kind {
			rec := d.Records[i]
			return &rec
		}
	}
	return nil
}

func (d *RecordingDispatcher) NotifyTrusteesOfRequest(ctx context.Context, req *models.LegacyAccessRequest, trustees []*models.Trustee, confirmations []*models.TrusteeConfirmation) {
	d.record(NotificationRecord{Kind: NotifTrusteesOfRequest, RequestID: req.ID.String()})
}

func (d *RecordingDispatcher) NotifyOwnerOfRequest(ctx context.Context, owner *models.Owner, req *models.LegacyAccessRequest) {
	d.record(NotificationRecord{Kind: NotifOwnerOfRequest, RequestID: req.ID.String()})
}

func (d *RecordingDispatcher) NotifyRequesterGracePeriodStarted(ctx context.Context, req *models.LegacyAccessRequest) {
	d.record(NotificationRecord{Kind: NotifGracePeriodStarted, RequestID: req.ID.String()})
}

func (d *RecordingDispatcher) NotifyRequesterRejected(ctx context.Context, req *models.LegacyAccessRequest) {
	d.record(NotificationRecord{Kind: NotifRejected, RequestID: req.ID.String()})
}

func (d *RecordingDispatcher) NotifyRequesterCancelled(ctx context.Context, req *models.LegacyAccessRequest) {
	d.record(NotificationRecord{Kind: NotifCancelled, RequestID: req.ID.String()})
}

func (d *RecordingDispatcher) NotifyRequesterAccessGranted(ctx context.Context, req *models.LegacyAccessRequest, accessLink string) {
	d.record(NotificationRecord{Kind: NotifAccessGranted, RequestID: req.ID.String(), AccessLink: accessLink})
}
