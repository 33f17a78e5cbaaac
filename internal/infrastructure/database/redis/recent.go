package redis

import (
	"context"

	"github.com/goccy/go-json"

	"github.com/turtacn/KeyMed-Intelligence/internal/application/analysis"
	"github.com/turtacn/KeyMed-Intelligence/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/KeyMed-Intelligence/pkg/errors"
)

// RecentAnalyses keeps the latest pattern analyses in a capped list shared
// by the API server and the worker.  It implements analysis.RecentStore.
type RecentAnalyses struct {
	client   *Client
	capacity int64
	logger   logging.Logger
}

func NewRecentAnalyses(client *Client, capacity int, log logging.Logger) *RecentAnalyses {
	if capacity <= 0 {
		capacity = analysis.DefaultRecentCapacity
	}
	return &RecentAnalyses{client: client, capacity: int64(capacity), logger: logging.OrNop(log)}
}

func (r *RecentAnalyses) key() string { return r.client.Key("analyses:recent") }

func (r *RecentAnalyses) Push(ctx context.Context, a *analysis.Analysis) error {
	data, err := json.Marshal(a)
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeSerialization, "failed to marshal analysis")
	}
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, r.key(), data)
	pipe.LTrim(ctx, r.key(), 0, r.capacity-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, errors.ErrCodeCacheError, "failed to push analysis")
	}
	return nil
}

// Recent returns up to n analyses, newest first.  Entries that no longer
// decode are skipped.
func (r *RecentAnalyses) Recent(ctx context.Context, n int) ([]*analysis.Analysis, error) {
	if n <= 0 {
		return []*analysis.Analysis{}, nil
	}
	vals, err := r.client.LRange(ctx, r.key(), 0, int64(n)-1).Result()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeCacheError, "failed to read recent analyses")
	}
	out := make([]*analysis.Analysis, 0, len(vals))
	for _, v := range vals {
		var a analysis.Analysis
		if err := json.Unmarshal([]byte(v), &a); err != nil {
			r.logger.Warn("Skipping undecodable analysis", logging.Err(err))
			continue
		}
		out = append(out, &a)
	}
	return out, nil
}

//Personal.AI order the ending
