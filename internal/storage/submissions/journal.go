// Package submissions journals submission intents in a WAL so an interrupted submission is never repeated.
package submissions

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/vadiminshakov/gowal"

	"github.com/vadiminshakov/txconfirm/internal/domain"
)

const (
	defaultDir         = "./wal/submissions"
	intentSegmentLimit = 1000
	intentMaxSegments  = 100
	intentKeyPrefix    = "submission_intent_"
)

// Status of a submission intent.
type Status string

const (
	StatusPending Status = "pending"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Intent journaled submission.
type Intent struct {
	RequestID string          `json:"request_id"`
	Status    Status          `json:"status"`
	Flow      string          `json:"flow"`
	Chain     string          `json:"chain"`
	Account   string          `json:"account"`
	Asset     string          `json:"asset"`
	Amount    decimal.Decimal `json:"amount"`
	Target    string          `json:"target,omitempty"`
	Fee       decimal.Decimal `json:"fee"`
	TxHash    string          `json:"tx_hash,omitempty"`
	Error     string          `json:"error,omitempty"`
	Time      time.Time       `json:"time"`
}

// Journal WAL-backed record of submission intents keyed by request id.
type Journal struct {
	wal *gowal.Wal

	mu      sync.Mutex
	intents map[string]*Intent
}

// Open opens the journal under dir and replays existing intents.
func Open(dir string) (*Journal, error) {
	if dir == "" {
		dir = defaultDir
	}

	wal, err := gowal.NewWAL(gowal.Config{
		Dir:              dir,
		Prefix:           "submission_",
		SegmentThreshold: intentSegmentLimit,
		MaxSegments:      intentMaxSegments,
		IsInSyncDiskMode: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "init submission WAL")
	}

	j := &Journal{
		wal:     wal,
		intents: make(map[string]*Intent),
	}

	for msg := range wal.Iterator() {
		if !strings.HasPrefix(msg.Key, intentKeyPrefix) {
			continue
		}
		var intent Intent
		if err := json.Unmarshal(msg.Value, &intent); err != nil {
			_ = wal.Close()
			return nil, errors.Wrapf(err, "decode submission intent %s", msg.Key)
		}
		// later records of the same request supersede earlier ones
		j.intents[intent.RequestID] = &intent
	}

	return j, nil
}

// Prepare records a pending intent for the request before it is signed.
func (j *Journal) Prepare(req *domain.ConfirmationRequest) (*Intent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if _, ok := j.intents[req.ID]; ok {
		return nil, domain.ErrRequestProcessed
	}

	intent := &Intent{
		RequestID: req.ID,
		Status:    StatusPending,
		Flow:      req.Flow.String(),
		Chain:     req.Asset.Ref.ChainID,
		Account:   req.Account,
		Asset:     req.Asset.Ref.String(),
		Amount:    req.Amount,
		Target:    req.Target,
		Fee:       req.Fee.Amount,
		Time:      time.Now(),
	}
	if err := j.persist(intent); err != nil {
		return nil, err
	}
	j.intents[intent.RequestID] = intent

	return intent, nil
}

// MarkDone records the broadcast transaction hash.
func (j *Journal) MarkDone(intent *Intent, txHash string) error {
	if intent == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = StatusDone
	intent.TxHash = txHash
	intent.Error = ""

	return j.persist(intent)
}

// MarkFailed records the failure of the submission.
func (j *Journal) MarkFailed(intent *Intent, err error) error {
	if intent == nil {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	intent.Status = StatusFailed
	if err != nil {
		intent.Error = err.Error()
	} else {
		intent.Error = ""
	}

	return j.persist(intent)
}

// Known reports whether the request was ever journaled.
func (j *Journal) Known(requestID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()

	_, ok := j.intents[requestID]
	return ok
}

// Pending returns intents interrupted between signing and the broadcast outcome, oldest first.
func (j *Journal) Pending() []Intent {
	return j.filter(func(i *Intent) bool { return i.Status == StatusPending })
}

// Intents returns all intents, oldest first.
func (j *Journal) Intents() []Intent {
	return j.filter(func(*Intent) bool { return true })
}

// Close closes the underlying WAL.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.wal.Close()
}

func (j *Journal) filter(keep func(*Intent) bool) []Intent {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]Intent, 0, len(j.intents))
	for _, intent := range j.intents {
		if keep(intent) {
			out = append(out, *intent)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Time.Before(out[b].Time) })

	return out
}

func (j *Journal) persist(intent *Intent) error {
	data, err := json.Marshal(intent)
	if err != nil {
		return errors.Wrap(err, "marshal submission intent")
	}
	key := fmt.Sprintf("%s%s", intentKeyPrefix, intent.RequestID)
	nextIndex := j.wal.CurrentIndex() + 1

	return j.wal.Write(nextIndex, key, data)
}
