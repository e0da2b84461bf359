package usecase

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/V4T54L/footfall/internal/adapter/clientip"
	"github.com/V4T54L/footfall/internal/adapter/pii"
	"github.com/V4T54L/footfall/internal/domain"
)

// EventWriter accepts events for background persistence.
type EventWriter interface {
	Write(key domain.PartitionKey, event domain.Event)
}

// RecordInput carries the request attributes of one event. IP is the already
// canonicalized client address and may be empty.
type RecordInput struct {
	IP        string
	StoreRaw  bool
	UserAgent string
	Method    string
	Path      string
}

// ExplicitInput is an event that names its resource and action directly.
type ExplicitInput struct {
	RecordInput
	ResourceType string
	ResourceID   string
	Action       string
	Metadata     map[string]any
}

// RecordUseCase builds attribution events and hands them to the writer.
// None of its methods block on storage or report failure.
type RecordUseCase struct {
	hasher   *clientip.Hasher
	writer   EventWriter
	redactor *pii.Redactor
	logger   *slog.Logger
}

// NewRecordUseCase creates a new RecordUseCase.
func NewRecordUseCase(hasher *clientip.Hasher, writer EventWriter, redactor *pii.Redactor, logger *slog.Logger) *RecordUseCase {
	return &RecordUseCase{
		hasher:   hasher,
		writer:   writer,
		redactor: redactor,
		logger:   logger.With("component", "record_usecase"),
	}
}

// RecordRequest classifies the request by method and path and records it in
// the matching partition.
func (uc *RecordUseCase) RecordRequest(ctx context.Context, in RecordInput) {
	key := domain.Classify(in.Method, in.Path)
	switch key.Kind {
	case domain.KindRoot:
		uc.RecordRootEvent(ctx, in)
	case domain.KindResource:
		uc.RecordResourceTypedEvent(ctx, key.ResourceID, in)
	default:
		uc.RecordOtherEvent(ctx, in)
	}
}

func (uc *RecordUseCase) RecordRootEvent(ctx context.Context, in RecordInput) {
	key := domain.RootPartition()
	uc.record(key, uc.newEvent(in, key))
}

// RecordResourceTypedEvent records a product page hit in the product's own partition.
func (uc *RecordUseCase) RecordResourceTypedEvent(ctx context.Context, productID string, in RecordInput) {
	key := domain.ResourcePartition(domain.ResourceProduct, productID)
	uc.record(key, uc.newEvent(in, key))
}

func (uc *RecordUseCase) RecordOtherEvent(ctx context.Context, in RecordInput) {
	key := domain.CatchAllPartition()
	uc.record(key, uc.newEvent(in, key))
}

// RecordExplicitResourceEvent records an event in the shared resource event
// store. Events missing a resource type, id or action are discarded. Type and
// id are stored normalized, the same way resource partition keys are.
func (uc *RecordUseCase) RecordExplicitResourceEvent(ctx context.Context, in ExplicitInput) {
	if in.ResourceType == "" || in.ResourceID == "" || in.Action == "" {
		uc.logger.Warn("discarding resource event without type, id or action",
			"resource_type", in.ResourceType, "resource_id", in.ResourceID, "action", in.Action)
		return
	}

	key := domain.ResourceEventsPartition()
	event := uc.newEvent(in.RecordInput, key)
	event.ResourceType = domain.StringPtr(domain.NormalizeToken(in.ResourceType))
	event.ResourceID = domain.StringPtr(domain.NormalizeToken(in.ResourceID))
	event.Action = domain.StringPtr(in.Action)
	if uc.redactor != nil {
		event.Metadata, _ = uc.redactor.Redact(in.Metadata, !in.StoreRaw)
	} else {
		event.Metadata = in.Metadata
	}
	uc.record(key, event)
}

func (uc *RecordUseCase) newEvent(in RecordInput, key domain.PartitionKey) domain.Event {
	event := domain.Event{
		ID:        uuid.NewString(),
		HashedIP:  uc.hasher.Hash(in.IP),
		UserAgent: domain.StringPtr(in.UserAgent),
		Method:    in.Method,
		Path:      in.Path,
	}
	if in.StoreRaw {
		event.RawIP = domain.StringPtr(in.IP)
	}
	if key.Kind == domain.KindResource {
		event.ResourceType = domain.StringPtr(key.ResourceType)
		event.ResourceID = domain.StringPtr(key.ResourceID)
	}
	return event
}

func (uc *RecordUseCase) record(key domain.PartitionKey, event domain.Event) {
	uc.logger.Debug("recording event", "partition", key.String(), "event_id", event.ID)
	uc.writer.Write(key, event)
}
