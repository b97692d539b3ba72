package facade

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"

	"github.com/memcontext/vault/internal/model"
	"github.com/memcontext/vault/internal/workerpool"
)

// bulkItemSchema is the JSON Schema a bulk_create payload item must satisfy
// before it reaches CreateMemory, grounded on FairForge's
// internal/gateway/validation/validator.go JSONSchema body check.
const bulkItemSchema = `{
  "type": "object",
  "required": ["owner_id", "content"],
  "properties": {
    "owner_id": {"type": "string", "minLength": 1},
    "title": {"type": "string"},
    "content": {"type": "string"},
    "access_level": {"type": "string", "enum": ["public", "user", "privileged", "admin"]}
  }
}`

// BulkQueueLimit is the largest batch bulk_create accepts: a batch with more
// items is refused whole. Items still in flight from other bulk_create calls
// are not counted against it.
var BulkQueueLimit = 1000

// BulkItem is one row of a bulk_create payload.
type BulkItem struct {
	OwnerID     string            `json:"owner_id"`
	Title       string            `json:"title"`
	Content     string            `json:"content"`
	AccessLevel model.AccessLevel `json:"access_level,omitempty"`
	ContextID   *int64            `json:"context_id,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// BulkResult pairs each input item's outcome with its index in the request.
type BulkResult struct {
	Index int
	ID    int64
	Err   error
}

// BulkCreate validates every item against bulkItemSchema, then fans the
// valid items' inserts out across the facade's worker pool. Results preserve
// input order; an item that fails validation or insertion carries its error
// in its result and does not stop the rest of the batch (spec §6's bulk job
// exit semantics: partial success is reported, not aborted).
func (f *Facade) BulkCreate(ctx context.Context, items []BulkItem) (results []BulkResult, err error) {
	defer func() { f.observe("bulk_create", err) }()

	if len(items) > BulkQueueLimit {
		return nil, model.ErrConfig(fmt.Sprintf("bulk_create batch of %d exceeds pending high-water mark %d", len(items), BulkQueueLimit))
	}

	type indexed struct {
		idx  int
		item BulkItem
	}
	results = make([]BulkResult, len(items))
	inputs := make([]indexed, 0, len(items))

	schemaLoader := gojsonschema.NewStringLoader(bulkItemSchema)
	for i, it := range items {
		raw, merr := json.Marshal(it)
		if merr != nil {
			return nil, model.ErrIntegrity("marshal bulk item: " + merr.Error())
		}
		res, verr := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(raw))
		if verr != nil {
			return nil, model.ErrIntegrity("schema validation: " + verr.Error())
		}
		if !res.Valid() {
			results[i] = BulkResult{Index: i, Err: model.ErrIntegrity(fmt.Sprintf("bulk item %d failed validation: %v", i, res.Errors()))}
			continue
		}
		inputs = append(inputs, indexed{idx: i, item: it})
	}

	created, _ := workerpool.Map(ctx, f.pool, inputs, func(ctx context.Context, in indexed) (BulkResult, error) {
		id, err := f.CreateMemory(ctx, CreateMemoryInput{
			Title: in.item.Title, Content: []byte(in.item.Content), OwnerID: in.item.OwnerID,
			ContextID: in.item.ContextID, AccessLevel: in.item.AccessLevel, Metadata: in.item.Metadata,
		})
		return BulkResult{Index: in.idx, ID: id, Err: err}, err
	})
	for k, r := range created {
		r.Index = inputs[k].idx
		results[r.Index] = r
	}
	return results, nil
}
